package genetic

import (
	"fmt"
	"log/slog"
)

// Result summarizes a finished search.
type Result struct {
	Error                float64 `json:"error"`
	Generations          int     `json:"generations"`
	UnchangedGenerations int     `json:"unchangedGenerations"`
}

func (r Result) String() string {
	return fmt.Sprintf("error=%g generations=%d unchanged=%d", r.Error, r.Generations, r.UnchangedGenerations)
}

// LogValue groups the result fields in structured logs.
func (r Result) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Float64("error", r.Error),
		slog.Int("generations", r.Generations),
		slog.Int("unchanged_generations", r.UnchangedGenerations),
	)
}
