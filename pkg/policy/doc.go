// Package policy checks normalized instances against Rego policies using
// Open Policy Agent.
//
// Every policy is a Rego module whose package defines a `deny` set. Policies
// see the instance list as input.instances, with the same field names as the
// vagrant.yml side file, and shared settings under data.boxctl.settings.
// A deny element is either a message string or an object:
//
//	package team.boxes
//
//	import rego.v1
//
//	deny contains violation if {
//	    some inst in input.instances
//	    not startswith(inst.box, "generic/")
//	    violation := {
//	        "instance": inst.name,
//	        "message": sprintf("box %s is not from the generic namespace", [inst.box]),
//	        "severity": "error",
//	    }
//	}
//
// Violations with error or critical severity stop the run before anything is
// written. The built-in policies (hostname-safe-name, minimum-memory,
// box-checksum) only report warnings and notes.
//
// Custom policies are loaded from .rego files, or from .json files holding a
// Policy document, given directly or found below a directory.
package policy
