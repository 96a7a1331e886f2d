package kernel

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Tag controls how an iname is realized: as a sequential loop, a
// device-parallel axis, an unrolled loop, or an ILP replication. Tags are
// represented as a closed variant type; the external string vocabulary is
// parsed at the boundary only, by ParseTag.
type Tag interface {
	fmt.Stringer
	isTag()
}

// Sequential realizes an iname as an ordinary loop. It is the default for
// untagged inames.
type Sequential struct{}

// LocalAxis realizes an iname as the local (intra-workgroup) parallel axis
// with the given number.
type LocalAxis struct {
	Axis int
}

// AutoLocal requests that the automatic axis assignor pick a concrete
// local axis (or fall back to unrolling). It must be resolved before
// scheduling.
type AutoLocal struct{}

// GroupAxis realizes an iname as the group (inter-workgroup) parallel axis
// with the given number.
type GroupAxis struct {
	Axis int
}

// Unroll realizes an iname by fully unrolling its loop.
type Unroll struct{}

// IlpUnroll realizes an iname by unrolling for instruction-level
// parallelism: the replicas are intended to execute concurrently, so
// private storage written under the iname is duplicated per replica.
type IlpUnroll struct{}

// IlpSequential realizes an ILP iname as an innermost sequential loop.
type IlpSequential struct{}

func (Sequential) isTag()    {}
func (LocalAxis) isTag()     {}
func (AutoLocal) isTag()     {}
func (GroupAxis) isTag()     {}
func (Unroll) isTag()        {}
func (IlpUnroll) isTag()     {}
func (IlpSequential) isTag() {}

func (Sequential) String() string    { return "for" }
func (t LocalAxis) String() string   { return fmt.Sprintf("l.%d", t.Axis) }
func (AutoLocal) String() string     { return "l.auto" }
func (t GroupAxis) String() string   { return fmt.Sprintf("g.%d", t.Axis) }
func (Unroll) String() string        { return "unr" }
func (IlpUnroll) String() string     { return "ilp.unr" }
func (IlpSequential) String() string { return "ilp.seq" }

// ParseTag parses the external tagging vocabulary: "None"/""/"for"
// (sequential), "l.N", "l.auto", "g.N", "unr", "ilp"/"ilp.unr", "ilp.seq",
// with N a non-negative integer.
func ParseTag(s string) (Tag, error) {
	switch s {
	case "", "None", "for":
		return Sequential{}, nil
	case "l.auto":
		return AutoLocal{}, nil
	case "unr":
		return Unroll{}, nil
	case "ilp", "ilp.unr":
		return IlpUnroll{}, nil
	case "ilp.seq":
		return IlpSequential{}, nil
	}
	if axisStr, found := strings.CutPrefix(s, "l."); found {
		axis, err := parseAxisNumber(axisStr)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid local axis tag %q", s)
		}
		return LocalAxis{Axis: axis}, nil
	}
	if axisStr, found := strings.CutPrefix(s, "g."); found {
		axis, err := parseAxisNumber(axisStr)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid group axis tag %q", s)
		}
		return GroupAxis{Axis: axis}, nil
	}
	return nil, errors.Errorf("unknown iname tag %q", s)
}

func parseAxisNumber(s string) (int, error) {
	axis, err := strconv.Atoi(s)
	if err != nil {
		return 0, err
	}
	if axis < 0 {
		return 0, errors.Errorf("axis number %d is negative", axis)
	}
	return axis, nil
}

// IsParallel reports whether the tag denotes a device-parallel axis.
// Unroll tags are realized as loops and do not count; ILP tags are
// queried separately via IsIlp.
func IsParallel(t Tag) bool {
	switch t.(type) {
	case LocalAxis, GroupAxis, AutoLocal:
		return true
	default:
		return false
	}
}

// IsIlp reports whether the tag is one of the ILP variants.
func IsIlp(t Tag) bool {
	switch t.(type) {
	case IlpUnroll, IlpSequential:
		return true
	default:
		return false
	}
}
