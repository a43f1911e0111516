package release

import (
	"errors"
	"fmt"
)

// Kind classifies why a packaging step failed.
type Kind string

const (
	// KindNone means the error is nil or unclassified.
	KindNone Kind = ""
	// KindConfiguration covers invalid settings, missing secrets and unsatisfiable gates.
	KindConfiguration Kind = "configuration"
	// KindDependency covers package manager failures.
	KindDependency Kind = "dependency"
	// KindBuild covers compiler failures.
	KindBuild Kind = "build"
	// KindPackaging covers rpmbuild, cargo-deb and archive failures.
	KindPackaging Kind = "packaging"
	// KindRelocation covers a missing or unmovable artifact.
	KindRelocation Kind = "relocation"
	// KindPublish covers coverage and documentation uploads.
	KindPublish Kind = "publish"
)

// Failure is a typed packaging error carrying its class and the step that failed.
type Failure struct {
	// Kind is the failure class.
	Kind Kind
	// Step is a short human label of the failed step.
	Step string
	// Err is the underlying error.
	Err error
}

// Error implements error.
func (f *Failure) Error() string {
	if f.Err == nil {
		return fmt.Sprintf("%s failure in %s", f.Kind, f.Step)
	}

	return fmt.Sprintf("%s failure in %s: %v", f.Kind, f.Step, f.Err)
}

// Unwrap exposes the underlying error to errors.Is / errors.As.
func (f *Failure) Unwrap() error {
	return f.Err
}

// Fail wraps err as a Failure of the given kind. A nil err stays nil.
func Fail(kind Kind, step string, err error) error {
	if err == nil {
		return nil
	}

	return &Failure{
		Kind: kind,
		Step: step,
		Err:  err,
	}
}

// KindOf returns the class of the outermost Failure in err's chain.
func KindOf(err error) Kind {
	var failure *Failure
	if errors.As(err, &failure) {
		return failure.Kind
	}

	return KindNone
}
