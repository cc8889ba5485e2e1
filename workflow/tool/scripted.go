package tool

import (
	"context"
	"sync"
)

// Step is one scripted tool outcome: Output, or Err when set.
type Step struct {
	Output map[string]interface{}
	Err    error
}

// ScriptedTool plays back Steps in order, one per Call, repeating the last
// step once the script runs out. Inputs are recorded for assertions.
type ScriptedTool struct {
	ToolName string
	Steps    []Step

	mu     sync.Mutex
	inputs []map[string]interface{}
}

// Returning scripts one successful step per output.
func Returning(outputs ...map[string]interface{}) *ScriptedTool {
	s := &ScriptedTool{ToolName: "scripted"}
	for _, out := range outputs {
		s.Steps = append(s.Steps, Step{Output: out})
	}
	return s
}

// FailingWith returns a tool whose every call fails with err.
func FailingWith(err error) *ScriptedTool {
	return &ScriptedTool{ToolName: "scripted", Steps: []Step{{Err: err}}}
}

// Name implements Tool.
func (s *ScriptedTool) Name() string { return s.ToolName }

// Call implements Tool.
func (s *ScriptedTool) Call(ctx context.Context, input map[string]interface{}) (map[string]interface{}, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	n := len(s.inputs)
	s.inputs = append(s.inputs, input)
	s.mu.Unlock()

	if len(s.Steps) == 0 {
		return map[string]interface{}{}, nil
	}
	step := s.Steps[min(n, len(s.Steps)-1)]
	if step.Err != nil {
		return nil, step.Err
	}
	return step.Output, nil
}

// Inputs returns the inputs of every call so far, oldest first.
func (s *ScriptedTool) Inputs() []map[string]interface{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]map[string]interface{}(nil), s.inputs...)
}
