// Package config loads pipeline definitions and builds them into engine runs.
//
// Definitions are written in YAML or CUE. Both decode into Pipeline, which is
// checked with struct tags and per-step-type rules before Build turns it into
// an *engine.Run. CUE documents are additionally unified with a built-in
// schema, so type and enum mistakes are reported with file positions.
//
// A minimal YAML definition:
//
//	name: deploy web
//	parameters:
//	  port: 8080
//	pre_conditions:
//	  - id: docker
//	    name: Docker available
//	    command: docker info
//	steps:
//	  - id: run
//	    name: Start container
//	    type: docker
//	    docker:
//	      image: nginx
//	      ports: ["8080:80"]
//	tests:
//	  - id: http
//	    name: Responds
//	    command: curl -fsS http://localhost:${port}/
//	    template: true
//	    retries: 3
//
// Only templates are substituted: commands that declare parameters, defaults
// or template: true. Pipeline parameters and overrides feed those, and every
// other command reaches the shell unchanged, so $HOME or a loop's $f keeps
// its shell meaning. Shell, package and docker steps are never templates.
//
// Step types are command (the default), shell, package, docker, script
// (Starlark, see package script) and parallel.
package config
