package policy

import (
	"github.com/openfroyo/boxctl/pkg/engine"
)

// GetBuiltinPolicies returns all built-in policies. None of them block a run.
func GetBuiltinPolicies() []Policy {
	return []Policy{
		hostnameSafeNamePolicy(),
		minimumMemoryPolicy(),
		boxChecksumPolicy(),
	}
}

// hostnameSafeNamePolicy warns when an instance name is used as the guest
// hostname but is not a valid one.
func hostnameSafeNamePolicy() Policy {
	return Policy{
		Name:        "hostname-safe-name",
		Description: "Instance names used as hostnames must be lowercase letters, digits and inner hyphens",
		Severity:    engine.SeverityWarning,
		Enabled:     true,
		Rego: `package boxctl.policies.naming

import rego.v1

uses_name_as_hostname(inst) if {
	not inst.hostname
	not inst.hostname_disabled
}

deny contains violation if {
	some inst in input.instances
	uses_name_as_hostname(inst)
	not regex.match("^[a-z0-9]([a-z0-9-]*[a-z0-9])?$", inst.name)
	violation := {
		"rule": "charset",
		"instance": inst.name,
		"message": sprintf("instance name '%s' is not a valid hostname", [inst.name]),
	}
}

deny contains violation if {
	some inst in input.instances
	uses_name_as_hostname(inst)
	count(inst.name) > 63
	violation := {
		"rule": "length",
		"instance": inst.name,
		"message": sprintf("instance name '%s' is longer than 63 characters", [inst.name]),
	}
}
`,
	}
}

// minimumMemoryPolicy warns about instances too small to boot most boxes.
func minimumMemoryPolicy() Policy {
	return Policy{
		Name:        "minimum-memory",
		Description: "Instances should have at least data.boxctl.settings.min_memory MiB of memory",
		Severity:    engine.SeverityWarning,
		Enabled:     true,
		Rego: `package boxctl.policies.memory

import rego.v1

deny contains violation if {
	threshold := data.boxctl.settings.min_memory
	some inst in input.instances
	inst.memory < threshold
	violation := {
		"instance": inst.name,
		"message": sprintf("memory %d MiB is below %d MiB", [inst.memory, threshold]),
	}
}
`,
	}
}

// boxChecksumPolicy notes boxes downloaded from a custom URL without a checksum.
func boxChecksumPolicy() Policy {
	return Policy{
		Name:        "box-checksum",
		Description: "Boxes fetched from box_url should carry a download checksum",
		Severity:    engine.SeverityInfo,
		Enabled:     true,
		Rego: `package boxctl.policies.checksum

import rego.v1

deny contains violation if {
	some inst in input.instances
	inst.box_url
	not inst.box_download_checksum
	violation := {
		"instance": inst.name,
		"message": sprintf("box_url %s has no download checksum", [inst.box_url]),
	}
}
`,
	}
}
