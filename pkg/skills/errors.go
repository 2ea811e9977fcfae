package skills

import (
	"fmt"

	"github.com/pkg/errors"
)

// NotFoundError reports a skill or reference chapter that does not correspond to
// an existing file. Chapter is empty when the skill itself is unknown, unless
// Reference marks a chapter lookup made with a blank reference.
type NotFoundError struct {
	Skill     string
	Chapter   string
	Reference bool
}

func (e *NotFoundError) Error() string {
	if e.IsReference() {
		return fmt.Sprintf("reference '%s' not found for skill '%s'", e.Chapter, e.Skill)
	}
	return fmt.Sprintf("skill '%s' not found", e.Skill)
}

// IsReference reports whether the lookup failed on the chapter rather than the skill.
func (e *NotFoundError) IsReference() bool {
	return e.Reference || e.Chapter != ""
}

// IsNotFound reports whether err, or any error it wraps, is a NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}
