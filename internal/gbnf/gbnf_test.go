package gbnf

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestToolCallGrammarAlternatesToolNames(t *testing.T) {
	g := ToolCallGrammar([]string{"read", "runtime.add"})

	assert.Contains(t, g, "root ::= final_object | tool_calls_object")
	assert.Contains(t, g, `function_name ::= ("\"read\"" | "\"runtime.add\"") ws`)
	assert.Contains(t, g, `ws ::= [ \t\n]*`)
}

func TestToolCallGrammarEmptyToolListFallsBackToString(t *testing.T) {
	g := ToolCallGrammar(nil)
	assert.Contains(t, g, "function_name ::= string")
}

func TestToolCallGrammarIsDeterministic(t *testing.T) {
	names := []string{"glob", "grep", "list"}
	assert.Equal(t, ToolCallGrammar(names), ToolCallGrammar(names))
	assert.NotEqual(t, ToolCallGrammar(names), ToolCallGrammar([]string{"glob"}))

	for _, rule := range []string{"root", "final_object", "tool_calls", "tool_call_list", "name_pair", "arguments_pair", "json_value"} {
		assert.True(t, strings.Contains(ToolCallGrammar(names), rule+" ::="), rule)
	}
}
