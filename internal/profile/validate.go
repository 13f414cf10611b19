package profile

import (
	"fmt"
	"strings"

	"github.com/matheus3301/chatline/internal/chaterr"
)

// MaxNameLen bounds a profile name.
const MaxNameLen = 64

// ValidateName rejects names that cannot key a profile. A profile name
// becomes a directory under profiles/ and part of the daemon's socket path,
// so only lowercase letters, digits, '-' and '_' are allowed.
func ValidateName(name string) error {
	switch {
	case name == "":
		return chaterr.InvalidArgument("profile", "profile name is empty")
	case len(name) > MaxNameLen:
		return chaterr.InvalidArgument("profile", fmt.Sprintf("profile name is longer than %d characters", MaxNameLen))
	}
	if i := strings.IndexFunc(name, func(r rune) bool {
		return !('a' <= r && r <= 'z' || '0' <= r && r <= '9' || r == '-' || r == '_')
	}); i >= 0 {
		return chaterr.InvalidArgument("profile", fmt.Sprintf("profile %q: character %q is not allowed", name, name[i]))
	}
	return nil
}
