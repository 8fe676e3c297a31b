package modules

import (
	"fmt"
	"math/rand/v2"

	"github.com/google/uuid"
	"go.starlark.net/starlark"
)

func newRandom() (starlark.Value, error) {
	return module("random", starlark.StringDict{
		"random":  starlark.NewBuiltin("random", randomFloat),
		"randint": starlark.NewBuiltin("randint", randomInt),
		"choice":  starlark.NewBuiltin("choice", randomChoice),
		"uuid4":   starlark.NewBuiltin("uuid4", randomUUID),
	}), nil
}

// random() returns a float in [0, 1).
func randomFloat(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 0); err != nil {
		return nil, err
	}
	return starlark.Float(rand.Float64()), nil
}

// randint(a, b) returns an integer in [a, b].
func randomInt(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var lo, hi int64
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 2, &lo, &hi); err != nil {
		return nil, err
	}
	if hi < lo {
		return nil, fmt.Errorf("%s: empty range [%d, %d]", b.Name(), lo, hi)
	}
	return starlark.MakeInt64(lo + rand.Int64N(hi-lo+1)), nil
}

func randomChoice(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var seq starlark.Indexable
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &seq); err != nil {
		return nil, err
	}
	if seq.Len() == 0 {
		return nil, fmt.Errorf("%s: empty sequence", b.Name())
	}
	return seq.Index(rand.IntN(seq.Len())), nil
}

func randomUUID(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 0); err != nil {
		return nil, err
	}
	return starlark.String(uuid.NewString()), nil
}
