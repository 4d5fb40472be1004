package transfer

import "fmt"

// UsageError reports a copy the caller asked for in a way that cannot be
// honored. Nothing has been changed on either side when it is returned.
type UsageError struct {
	Path      string
	Reason    string
	directive string
}

func (e *UsageError) Error() string {
	return fmt.Sprintf("%s %s", e.Path, e.Reason)
}

// Directive tells the operator how to correct the request
func (e *UsageError) Directive() string {
	return e.directive
}

func errIsDirectory(path string) *UsageError {
	return &UsageError{
		Path:      path,
		Reason:    "is a directory",
		directive: "append / to copy into the directory",
	}
}

func errExists(path string) *UsageError {
	return &UsageError{
		Path:      path,
		Reason:    "already exists",
		directive: "remove it or choose another destination directory",
	}
}

func errNotDirectory(path string) *UsageError {
	return &UsageError{
		Path:      path,
		Reason:    "exists but is not a directory",
		directive: "choose a destination that is a directory or does not exist",
	}
}

func errNotRegular(path string) *UsageError {
	return &UsageError{
		Path:      path,
		Reason:    "exists but is not a regular file or directory",
		directive: "choose a destination that is a regular file, a directory, or does not exist",
	}
}
