package config

import (
	"fmt"

	"cuelang.org/go/cue"
)

// pipelineSchema constrains CUE definitions before they are decoded. It
// mirrors the Go definition types; definitions are closed, so misspelled
// fields are rejected.
const pipelineSchema = `
#Platform: "fedora" | "ubuntu" | "debian" | "centos" | "rhel" | "mac" | "windows" | "linux" | "unix"

#Duration: string | number

#Check: {
	id:           string & !=""
	name:         string & !=""
	description?: string
	command:      string & !=""
	platform?:    #Platform
	timeout?:     #Duration
	retries?:     int & >=0
	template?:    bool
	parameters?: {...}
	defaults?: {...}
}

#Step: {
	id:                   string & !=""
	name:                 string & !=""
	description?:         string
	type?:                "command" | "shell" | "package" | "docker" | "script" | "parallel"
	command?:             string
	platform?:            #Platform
	timeout?:             #Duration
	retries?:             int & >=0
	continue_on_failure?: bool
	template?:            bool
	parameters?: {...}
	defaults?: {...}
	env?: {[string]: string}
	package?: {
		manager:  "dnf" | "yum" | "apt" | "brew"
		name:     string & !=""
		version?: string
	}
	docker?: {
		image:    string & !=""
		tag?:     string
		name?:    string
		ports?: [...string]
		env?: {[string]: string}
		volumes?: [...string]
		command?: string
		detach?:  bool
		args?: [...string]
	}
	script?:      string
	script_file?: string
	steps?: [...#Step]
}

#Pipeline: {
	id?:          string
	name:         string & !=""
	description?: string
	parameters?: {...}
	pre_conditions?: [...#Check]
	steps?: [...#Step]
	tests?: [...#Check]
}
`

// pipelineDefinition compiles the schema in ctx. Values from different
// cue.Contexts cannot be unified, so the caller's context is used.
func pipelineDefinition(ctx *cue.Context) (cue.Value, error) {
	schema := ctx.CompileString(pipelineSchema, cue.Filename("pipeline_schema.cue"))
	if err := schema.Err(); err != nil {
		return cue.Value{}, fmt.Errorf("failed to compile pipeline schema: %w", err)
	}
	return schema.LookupPath(cue.ParsePath("#Pipeline")), nil
}
