package workflow

import (
	"encoding/json"
	"strings"

	"github.com/loomwork/loomwork/internal/errs"
)

// runContext is the mutable JSON-serializable state threaded through a
// run's steps. Handlers never see the map directly mutated out from
// under them; the executor copies, merges, and re-persists it between
// steps.
type runContext map[string]any

func decodeContext(blob string) (runContext, error) {
	if blob == "" {
		return runContext{}, nil
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(blob), &m); err != nil {
		return nil, errs.Wrap(errs.KindState, "decode run context", err)
	}
	return runContext(m), nil
}

func (c runContext) encode() (string, error) {
	b, err := json.Marshal(map[string]any(c))
	if err != nil {
		return "", errs.Wrap(errs.KindState, "encode run context", err)
	}
	return string(b), nil
}

// merge shallow-merges src into c, overwriting existing keys.
func (c runContext) merge(src map[string]any) {
	for k, v := range src {
		c[k] = v
	}
}

func (c runContext) clone() runContext {
	out := make(runContext, len(c))
	for k, v := range c {
		out[k] = v
	}
	return out
}

// resolveList reads a dotted context path ("a.b.c") and returns it as a
// []any, for parallel-for's foreach addressing. Returns an errs.State
// error if the path is absent or not a list.
func resolveList(c runContext, path string) ([]any, error) {
	var cur any = map[string]any(c)
	for _, part := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, errs.New(errs.KindState, "foreach path "+path+" does not resolve to an object")
		}
		cur, ok = m[part]
		if !ok {
			return nil, errs.New(errs.KindState, "foreach path "+path+" not found in context")
		}
	}
	list, ok := cur.([]any)
	if !ok {
		return nil, errs.New(errs.KindState, "foreach path "+path+" is not a list")
	}
	return list, nil
}
