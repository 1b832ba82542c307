package llm

import "fmt"

// FactExtractionPrompt asks for durable facts as ENTITY|VALUE|IMPORTANCE
// lines. The pipe format is deliberately rigid: it parses without JSON
// recovery heuristics and small local models produce it reliably.
func FactExtractionPrompt(statement string) string {
	return fmt.Sprintf(`You are a fact extraction system. Extract durable personal facts from this statement.

STATEMENT:
%s

Rules:
- Extract only facts worth remembering across conversations (identity, possessions, preferences, projects, locations).
- Skip questions, greetings, and transient chatter.
- ENTITY is a short snake_case label (e.g. user_name, user_car, user_preference).
- VALUE is the fact itself, under 80 characters.
- IMPORTANCE is 1-4: 4 identity, 3 preferences/possessions, 2 projects, 1 locations and minor details.
- One fact per line, format exactly: ENTITY|VALUE|IMPORTANCE
- If nothing worth extracting, return: NONE

Facts:`, statement)
}
