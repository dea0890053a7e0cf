package completion

import "strings"

// AgentTable maps logical agent names to remote bot identities. It is
// immutable once built; pass it to New through Options.
type AgentTable struct {
	aliases      map[string]string
	sharedPrefix string
	sharedAuthor string
}

// NewAgentTable builds a table. Names starting with sharedPrefix are all
// answered by sharedAuthor; an empty prefix disables that rule.
func NewAgentTable(aliases map[string]string, sharedPrefix, sharedAuthor string) AgentTable {
	copied := make(map[string]string, len(aliases))
	for k, v := range aliases {
		copied[k] = v
	}
	return AgentTable{
		aliases:      copied,
		sharedPrefix: sharedPrefix,
		sharedAuthor: sharedAuthor,
	}
}

// DefaultAgentTable returns the built-in Poe mapping.
//
//	claude    -> a2
//	sage      -> beaver
//	chatgpt   -> chinchilla
//	dragonfly -> nutria
//
// Custom "vn*" bots are backed by chinchilla, so their replies are authored
// by it.
func DefaultAgentTable() AgentTable {
	return NewAgentTable(map[string]string{
		"claude":    "a2",
		"sage":      "beaver",
		"chatgpt":   "chinchilla",
		"dragonfly": "nutria",
	}, "vn", "chinchilla")
}

// BotName resolves the remote bot handle for a logical name. Unknown names
// are used verbatim.
func (t AgentTable) BotName(name string) string {
	if bot, ok := t.aliases[name]; ok {
		return bot
	}
	return name
}

// AuthorName resolves the author nickname expected on completed replies.
func (t AgentTable) AuthorName(name string) string {
	if t.sharedPrefix != "" && strings.HasPrefix(name, t.sharedPrefix) {
		return t.sharedAuthor
	}
	return t.BotName(name)
}
