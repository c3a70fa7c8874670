// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package plugin

import (
	"fmt"

	"github.com/alecthomas/participle/v2"
	"github.com/alecthomas/participle/v2/lexer"
	"github.com/samber/oops"
)

// requirementLexer tokenizes the compact dependency syntax. Versions are
// matched before names; names always start with a letter so the two never
// overlap.
var requirementLexer = lexer.MustSimple([]lexer.SimpleRule{
	{Name: "Version", Pattern: `\d+\.\d+\.\d+(-[0-9A-Za-z.-]+)?(\+[0-9A-Za-z.-]+)?`},
	{Name: "Name", Pattern: `[a-z][a-z0-9-]*`},
	{Name: "OpGe", Pattern: `>=`},
	{Name: "whitespace", Pattern: `\s+`},
})

// requirementExpr is the grammar: name [ ">=" version ]
type requirementExpr struct {
	Plugin  string `parser:"@Name"`
	Minimum string `parser:"( '>=' @Version )?"`
}

var requirementParser = participle.MustBuild[requirementExpr](
	participle.Lexer(requirementLexer),
)

// ParseRequirement parses the compact dependency syntax used in manifests,
// e.g. "core" or "core >= 1.2.0".
func ParseRequirement(s string) (Dependency, error) {
	expr, err := requirementParser.ParseString("", s)
	if err != nil {
		return Dependency{}, oops.In("manifest").With("requirement", s).Wrapf(err, "parsing dependency")
	}
	d := Dependency{Plugin: expr.Plugin, MinVersion: expr.Minimum}
	if err := d.validate(); err != nil {
		return Dependency{}, fmt.Errorf("dependency %q: %w", s, err)
	}
	return d, nil
}
