package domain

import (
	_ "embed"
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed pests.yaml
var defaultPestsYAML []byte

// whitespaceRe collapses runs of whitespace in pest names.
var whitespaceRe = regexp.MustCompile(`\s+`)

type pestFile struct {
	Pests map[string]pestEntry `yaml:"pests"`
}

type pestEntry struct {
	Synonyms []string `yaml:"synonyms"`
	Keywords []string `yaml:"keywords"`
}

type keywordRule struct {
	keyword  string
	pestType string
	re       *regexp.Regexp
}

// KeywordMatch is one canonical pest type found in free text.
type KeywordMatch struct {
	PestType string
	Mentions int
}

// PestDictionary folds free-text pest names onto canonical pest types.
type PestDictionary struct {
	synonyms  map[string]string
	keywords  []keywordRule
	canonical []string
}

// DefaultPestDictionary returns the dictionary embedded in the binary.
func DefaultPestDictionary() *PestDictionary {
	d, err := ParsePestDictionary(defaultPestsYAML)
	if err != nil {
		panic(fmt.Sprintf("embedded pest dictionary: %v", err))
	}
	return d
}

// LoadPestDictionary reads a YAML dictionary from path. An empty path yields
// the embedded default.
func LoadPestDictionary(path string) (*PestDictionary, error) {
	if path == "" {
		return DefaultPestDictionary(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read pest dictionary: %w", err)
	}
	return ParsePestDictionary(data)
}

// ParsePestDictionary builds a dictionary from its YAML form.
func ParsePestDictionary(data []byte) (*PestDictionary, error) {
	var f pestFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse pest dictionary: %w", err)
	}
	if len(f.Pests) == 0 {
		return nil, fmt.Errorf("parse pest dictionary: no pests defined")
	}

	d := &PestDictionary{synonyms: make(map[string]string)}
	for canonical, entry := range f.Pests {
		canonical = cleanPestName(canonical)
		d.canonical = append(d.canonical, canonical)
		d.synonyms[canonical] = canonical
		for _, syn := range entry.Synonyms {
			d.synonyms[cleanPestName(syn)] = canonical
		}
		for _, kw := range entry.Keywords {
			kw = cleanPestName(kw)
			if kw == "" {
				continue
			}
			d.keywords = append(d.keywords, keywordRule{
				keyword:  kw,
				pestType: canonical,
				re:       regexp.MustCompile(`\b` + strings.ReplaceAll(regexp.QuoteMeta(kw), " ", `\s+`) + `\b`),
			})
		}
	}
	sort.Strings(d.canonical)

	// Longest keywords first so "fruit flies" claims its span before "flies".
	sort.SliceStable(d.keywords, func(i, j int) bool {
		if len(d.keywords[i].keyword) != len(d.keywords[j].keyword) {
			return len(d.keywords[i].keyword) > len(d.keywords[j].keyword)
		}
		return d.keywords[i].keyword < d.keywords[j].keyword
	})
	return d, nil
}

// Canonical lists the canonical pest types in sorted order.
func (d *PestDictionary) Canonical() []string {
	out := make([]string, len(d.canonical))
	copy(out, d.canonical)
	return out
}

// Normalize maps a free-text pest name onto its canonical type. Unknown names
// are returned cleaned (lower-cased, single-spaced) rather than dropped.
func (d *PestDictionary) Normalize(name string) string {
	clean := cleanPestName(name)
	if clean == "" {
		return ""
	}
	if c, ok := d.synonyms[clean]; ok {
		return c
	}
	for _, variant := range pluralVariants(clean) {
		if c, ok := d.synonyms[variant]; ok {
			return c
		}
	}
	return clean
}

// MatchKeywords scans text for pest keywords and returns one match per
// canonical pest type, sorted by pest type. Each span of text counts toward
// at most one keyword.
func (d *PestDictionary) MatchKeywords(text string) []KeywordMatch {
	haystack := []byte(strings.ToLower(text))
	counts := make(map[string]int)
	for _, rule := range d.keywords {
		locs := rule.re.FindAllIndex(haystack, -1)
		if len(locs) == 0 {
			continue
		}
		counts[rule.pestType] += len(locs)
		for _, loc := range locs {
			for i := loc[0]; i < loc[1]; i++ {
				haystack[i] = ' '
			}
		}
	}

	matches := make([]KeywordMatch, 0, len(counts))
	for _, c := range d.canonical {
		if n, ok := counts[c]; ok {
			matches = append(matches, KeywordMatch{PestType: c, Mentions: n})
		}
	}
	return matches
}

func cleanPestName(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	name = strings.NewReplacer("-", " ", "_", " ").Replace(name)
	name = strings.Trim(name, ".,!?;:'\"()")
	return strings.TrimSpace(whitespaceRe.ReplaceAllString(name, " "))
}

func pluralVariants(name string) []string {
	var out []string
	if strings.HasSuffix(name, "es") {
		out = append(out, strings.TrimSuffix(name, "es"))
	}
	if strings.HasSuffix(name, "s") {
		out = append(out, strings.TrimSuffix(name, "s"))
	}
	return append(out, name+"s", name+"es")
}
