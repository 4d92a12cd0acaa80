// SPDX-License-Identifier: Apache-2.0

package catalog

import (
	"fmt"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueyaml "cuelang.org/go/encoding/yaml"
)

// catalogSchema constrains catalog documents. Field names are the fixed
// structured fields the extractor knows how to pull from documents.
const catalogSchema = `
#Field: "project_id" | "project_start_date" | "imagery_date" | "sampling_date" |
	"baseline_date" | "land_area_ha" | "owner_name"

#Requirement: {
	id:                string & =~"^[A-Z]+-[0-9]+$"
	description:       string & !=""
	category:          string & !=""
	scope:             "farm" | "meta"
	accepted_evidence: string
	fields?: [...#Field]
}

#Catalog: {
	methodology: string & =~"^[a-z0-9][a-z0-9._-]*$"
	version:     string & !=""
	title?:      string
	requirements: [#Requirement, ...#Requirement]
}
`

// cue.Context is not safe for concurrent use; catalogs load rarely.
var schemaMu sync.Mutex

func validateSchema(name string, data []byte) error {
	schemaMu.Lock()
	defer schemaMu.Unlock()

	ctx := cuecontext.New()
	schema := ctx.CompileString(catalogSchema)
	if err := schema.Err(); err != nil {
		return fmt.Errorf("compile catalog schema: %w", err)
	}

	file, err := cueyaml.Extract(name, data)
	if err != nil {
		return fmt.Errorf("parse catalog %s: %w", name, err)
	}
	value := ctx.BuildFile(file)
	if err := value.Err(); err != nil {
		return fmt.Errorf("build catalog %s: %w", name, err)
	}

	def := schema.LookupPath(cue.ParsePath("#Catalog"))
	if err := def.Unify(value).Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("catalog %s does not match schema: %w", name, err)
	}
	return nil
}
