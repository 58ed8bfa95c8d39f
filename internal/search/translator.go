package search

import (
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/message/catalog"
)

// KeyFormNotFound is the flash message shown when a form id does not resolve.
// It takes the requested id as its single argument.
const KeyFormNotFound = "form.error.notfound"

// Translator resolves translation keys to localized strings.
type Translator interface {
	Translate(key string, args ...any) string
}

// supported lists the locales with a full set of messages. The first entry
// is the fallback.
var supported = []language.Tag{language.English, language.French}

var messages = map[language.Tag]map[string]string{
	language.English: {
		KeyIs:            "is",
		KeyHas:           "has",
		KeyName:          "name",
		KeyIsPublished:   "published",
		KeyIsUnpublished: "unpublished",
		KeyIsMine:        "mine",
		KeyIsExpired:     "expired",
		KeyIsPending:     "pending",
		KeyHasResults:    "results",
		KeyFormNotFound:  "No form with an id of %v was found.",
	},
	language.French: {
		KeyIs:            "est",
		KeyHas:           "a",
		KeyName:          "nom",
		KeyIsPublished:   "publié",
		KeyIsUnpublished: "nonpublié",
		KeyIsMine:        "moi",
		KeyIsExpired:     "expiré",
		KeyIsPending:     "enattente",
		KeyHasResults:    "résultats",
		KeyFormNotFound:  "Aucun formulaire avec l'identifiant %v n'a été trouvé.",
	},
}

var defaultCatalog = buildCatalog()

func buildCatalog() catalog.Catalog {
	b := catalog.NewBuilder(catalog.Fallback(supported[0]))
	for tag, msgs := range messages {
		for key, msg := range msgs {
			if err := b.SetString(tag, key, msg); err != nil {
				panic("search: invalid message " + key + ": " + err.Error())
			}
		}
	}
	return b
}

var matcher = language.NewMatcher(supported)

// CatalogTranslator translates keys using the built-in message catalog.
type CatalogTranslator struct {
	tag     language.Tag
	printer *message.Printer
}

// NewTranslator returns a translator for the closest supported match to
// locale (a BCP 47 tag such as "en" or "fr-CA"). Unknown or malformed locales
// fall back to English.
func NewTranslator(locale string) *CatalogTranslator {
	tag := supported[0]
	if requested, err := language.Parse(locale); err == nil {
		_, idx, conf := matcher.Match(requested)
		if conf != language.No {
			tag = supported[idx]
		}
	}
	return &CatalogTranslator{
		tag:     tag,
		printer: message.NewPrinter(tag, message.Catalog(defaultCatalog)),
	}
}

// Locale returns the resolved locale tag.
func (t *CatalogTranslator) Locale() string {
	return t.tag.String()
}

// Translate returns the message for key formatted with args.
func (t *CatalogTranslator) Translate(key string, args ...any) string {
	return t.printer.Sprintf(key, args...)
}
