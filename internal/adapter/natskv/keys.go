package natskv

import (
	"fmt"
	"regexp"

	"github.com/Strob0t/phasegate/internal/domain"
)

// validKey mirrors the key alphabet JetStream KV accepts.
var validKey = regexp.MustCompile(`^[-/_=\.a-zA-Z0-9]+$`)

func checkKey(key string) error {
	if !validKey.MatchString(key) || key[0] == '.' || key[len(key)-1] == '.' {
		return fmt.Errorf("%w: %q is not a valid key", domain.ErrValidation, key)
	}
	return nil
}
