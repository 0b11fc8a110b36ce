package hcl

import "github.com/hashicorp/hcl/v2"

// --- Recipe file schema ---

// envBlock holds the free-form attributes of an `env` block.
type envBlock struct {
	Body hcl.Body `hcl:",remain"`
}

// stageBlock is the builder stage of a recipe.
type stageBlock struct {
	Name     string `hcl:"name,label"`
	From     string `hcl:"from,optional"`
	Manifest string `hcl:"manifest"`
	Prefix   string `hcl:"prefix"`
}

// copyBlock places a stage output or build-context file into the image.
type copyBlock struct {
	Name      string `hcl:"name,label"`
	FromStage string `hcl:"from_stage,optional"`
	Source    string `hcl:"source,optional"`
	Target    string `hcl:"target"`
}

// triggerBlock is the scheduling rule bound to the image entrypoint.
type triggerBlock struct {
	Command []string `hcl:"command"`
	Days    []string `hcl:"days,optional"`
	At      string   `hcl:"at,optional"`
}

// imageBlock is the top-level `image` block of a recipe.
type imageBlock struct {
	Name    string        `hcl:"name,label"`
	From    string        `hcl:"from"`
	WorkDir string        `hcl:"workdir,optional"`
	Stages  []*stageBlock `hcl:"stage,block"`
	Copies  []*copyBlock  `hcl:"copy,block"`
	Env     *envBlock     `hcl:"env,block"`
	Trigger *triggerBlock `hcl:"trigger,block"`
}

// fileRoot decodes all recognized top-level blocks from a recipe file.
type fileRoot struct {
	Images []*imageBlock `hcl:"image,block"`
	Remain hcl.Body      `hcl:",remain"`
}
