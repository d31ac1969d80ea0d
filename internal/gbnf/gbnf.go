// Package gbnf derives llama.cpp GBNF grammars that constrain assistant
// output to the {"final":...} | {"tool_calls":[...]} protocol.
package gbnf

import (
	"strings"
)

// jsonRules is the shared JSON fragment every generated grammar ends with.
const jsonRules = `
string ::= "\"" char* "\"" ws
char ::= [^"\\\x7F\x00-\x1F] | "\\" (["\\bfnrt] | "u" [0-9a-fA-F]{4})
number ::= ("-"? [0-9]+) ("." [0-9]+)? ([eE] [-+]? [0-9]+)? ws
json_object ::= "{" ws (json_pair ("," ws json_pair)*)? "}" ws
json_pair ::= string ":" ws json_value
json_array ::= "[" ws (json_value ("," ws json_value)*)? "]" ws
json_value ::= json_object | json_array | string | number | ("true" | "false" | "null") ws
ws ::= [ \t\n]*
`

// ToolCallGrammar builds the grammar for a tool-use turn. The root accepts
// either a final answer object or a tool_calls array whose function names
// are restricted to the given tools. Derivation is deterministic in the
// tool-name order.
func ToolCallGrammar(toolNames []string) string {
	var g strings.Builder

	g.WriteString("root ::= final_object | tool_calls_object\n")
	g.WriteString("final_object ::= \"{\" ws \"\\\"final\\\"\" ws \":\" ws string \"}\" ws\n")
	g.WriteString("tool_calls_object ::= \"{\" ws \"\\\"tool_calls\\\"\" ws \":\" ws tool_calls \"}\" ws\n")
	g.WriteString("tool_calls ::= \"[\" ws tool_call_list? \"]\" ws\n")
	g.WriteString("tool_call_list ::= tool_call (\",\" ws tool_call)*\n")
	g.WriteString("tool_call ::= \"{\" ws name_pair (\",\" ws arguments_pair)? ws \"}\" ws\n")
	g.WriteString("name_pair ::= \"\\\"name\\\"\" ws \":\" ws function_name\n")
	g.WriteString("arguments_pair ::= \"\\\"arguments\\\"\" ws \":\" ws json_value\n\n")

	g.WriteString("function_name ::= ")
	if len(toolNames) == 0 {
		g.WriteString("string")
	} else {
		g.WriteString("(")
		for i, name := range toolNames {
			if i > 0 {
				g.WriteString(" | ")
			}
			g.WriteString("\"\\\"" + name + "\\\"\"")
		}
		g.WriteString(") ws")
	}
	g.WriteString("\n")

	g.WriteString(jsonRules)
	return g.String()
}
