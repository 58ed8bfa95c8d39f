package search

import "strings"

// Translation keys for the search-command vocabulary. Commands and their
// sub-values are matched against the translated strings, never against the
// keys themselves.
const (
	KeyIs   = "searchcommand.is"
	KeyHas  = "searchcommand.has"
	KeyName = "searchcommand.name"

	KeyIsPublished   = "searchcommand.ispublished"
	KeyIsUnpublished = "searchcommand.isunpublished"
	KeyIsMine        = "searchcommand.ismine"
	KeyIsExpired     = "form.searchcommand.isexpired"
	KeyIsPending     = "form.searchcommand.ispending"
	KeyHasResults    = "form.searchcommand.hasresults"
)

// CommandSpec declares one command of a vocabulary by translation key.
// Values is empty for bare commands that take free text (name:).
type CommandSpec struct {
	Key    string
	Values []string
}

// FormCommands is the command vocabulary for searching forms.
var FormCommands = []CommandSpec{
	{Key: KeyIs, Values: []string{KeyIsPublished, KeyIsUnpublished, KeyIsMine, KeyIsExpired, KeyIsPending}},
	{Key: KeyHas, Values: []string{KeyHasResults}},
	{Key: KeyName},
}

// Command is a localized vocabulary entry advertised for autocomplete and help.
type Command struct {
	Name   string   `json:"name"`
	Values []string `json:"values,omitempty"`
}

// Commands returns the localized vocabulary for specs, in declaration order.
func Commands(tr Translator, specs []CommandSpec) []Command {
	out := make([]Command, 0, len(specs))
	for _, spec := range specs {
		c := Command{Name: tr.Translate(spec.Key)}
		for _, v := range spec.Values {
			c.Values = append(c.Values, tr.Translate(v))
		}
		out = append(out, c)
	}
	return out
}

// Resolver maps typed (localized) command tokens back to translation keys.
type Resolver struct {
	commands map[string]string            // localized command -> command key
	values   map[string]map[string]string // command key -> localized value -> value key
	bare     map[string]bool              // command keys that take free text
}

// NewResolver builds a Resolver for specs using tr. Matching is
// case-insensitive.
func NewResolver(tr Translator, specs []CommandSpec) *Resolver {
	r := &Resolver{
		commands: make(map[string]string, len(specs)),
		values:   make(map[string]map[string]string, len(specs)),
		bare:     make(map[string]bool),
	}
	for _, spec := range specs {
		r.commands[strings.ToLower(tr.Translate(spec.Key))] = spec.Key
		if len(spec.Values) == 0 {
			r.bare[spec.Key] = true
			continue
		}
		vals := make(map[string]string, len(spec.Values))
		for _, v := range spec.Values {
			vals[strings.ToLower(tr.Translate(v))] = v
		}
		r.values[spec.Key] = vals
	}
	return r
}

// HasCommand reports whether name is a localized command word.
func (r *Resolver) HasCommand(name string) bool {
	_, ok := r.commands[strings.ToLower(name)]
	return ok
}

// Resolve returns the command key and value key for a command filter.
// For bare commands the value key is empty. ok is false when the command or
// its value is not part of the vocabulary.
func (r *Resolver) Resolve(f Filter) (commandKey, valueKey string, ok bool) {
	commandKey, ok = r.commands[strings.ToLower(f.Command)]
	if !ok {
		return "", "", false
	}
	if r.bare[commandKey] {
		return commandKey, "", true
	}
	valueKey, ok = r.values[commandKey][strings.ToLower(f.String)]
	if !ok {
		return "", "", false
	}
	return commandKey, valueKey, true
}
