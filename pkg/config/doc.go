// Package config loads scenario parameters and normalizes them into canonical
// instance specs.
//
// # Scenario sources
//
// Loader reads YAML, CUE and Starlark files. All three produce the same
// document shape, checked against the built-in #Scenario CUE schema:
//
//	instances:
//	  - name: instance-1
//	    box: debian/bookworm64
//	    memory: 1024
//	    interfaces:
//	      - network_name: private_network
//	        ip: 192.168.56.10
//	provider_name: virtualbox
//	state: up
//
// In YAML, ${NAME} references are replaced from the caller's variables.
// Starlark scripts see the same variables as the env dict; their public
// globals become the document.
//
// # Normalization
//
// Params carries either the instances list or the deprecated single-instance
// fields (instance_name, platform_box, provider_memory, ...). Normalizer
// accepts exactly one form, fills defaults (memory 512, cpus 2, the default
// box, synced_folder false, ssh.insert_key true) and rejects incomplete
// checksum pairs and duplicate names. All failures are configuration errors
// raised before anything is written.
//
// Normalization is stable: Normalize(Denormalize(specs)) returns specs.
package config
