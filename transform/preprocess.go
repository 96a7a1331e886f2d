package transform

import (
	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/sbl8/loft/kernel"
	"github.com/sbl8/loft/target"
)

// Preprocess runs the standard pass pipeline that brings a kernel from
// its authored form to a schedulable one: data-flow dependency
// completion, automatic axis assignment, reduction realization, and ILP
// temporary duplication, with validation before and after. Scheduling
// requires a preprocessed kernel.
func Preprocess(k *kernel.Kernel, dev target.Device) (*kernel.Kernel, error) {
	if err := k.Validate(); err != nil {
		return nil, errors.Wrap(err, "preprocess input")
	}

	k = k.CompleteDataFlowDeps()
	klog.V(2).Infof("kernel %q after dependency completion:\n%s", k.Name, k)

	k, err := AssignAutomaticAxes(k, dev)
	if err != nil {
		return nil, errors.Wrap(err, "automatic axis assignment")
	}

	k, err = RealizeReductions(k)
	if err != nil {
		return nil, errors.Wrap(err, "reduction realization")
	}

	k, err = DuplicateILPTemporaries(k)
	if err != nil {
		return nil, errors.Wrap(err, "ILP temporary duplication")
	}

	if err := k.Validate(); err != nil {
		return nil, errors.Wrap(err, "preprocess result")
	}
	klog.V(2).Infof("kernel %q after preprocessing:\n%s", k.Name, k)
	return k, nil
}
