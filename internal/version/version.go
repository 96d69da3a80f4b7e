// Package version contains FilterSync version information.
package version

// These can be set by the linker.  Constants cannot be set during linking, so
// the values are only exported through getters.
var (
	branch     string
	committime string
	revision   string
	version    string

	name = "FilterSync"
)

// Branch returns the compiled-in value of the Git branch.
func Branch() (b string) {
	return branch
}

// CommitTime returns the compiled-in value of the commit time as a string.
func CommitTime() (t string) {
	return committime
}

// Revision returns the compiled-in value of the Git revision.
func Revision() (r string) {
	return revision
}

// Version returns the compiled-in value of the FilterSync version as a string.
// It returns "dev" if the version has not been set by the linker.
func Version() (v string) {
	if version == "" {
		return "dev"
	}

	return version
}

// Name returns the compiled-in value of the FilterSync name.  It is used as the
// add-on name in download requests and in the User-Agent header.
func Name() (n string) {
	return name
}
