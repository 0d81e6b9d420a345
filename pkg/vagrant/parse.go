package vagrant

import (
	"bufio"
	"strings"

	"github.com/openfroyo/boxctl/pkg/engine"
)

// ParseStatus reads `vagrant status --machine-readable` output. Lines have
// the form timestamp,target,type,data... and machines are returned in the
// order vagrant first mentions them.
func ParseStatus(out string) []engine.LiveInstanceStatus {
	var (
		order  []string
		byName = make(map[string]*engine.LiveInstanceStatus)
	)
	get := func(name string) *engine.LiveInstanceStatus {
		s, ok := byName[name]
		if !ok {
			s = &engine.LiveInstanceStatus{Name: name, State: engine.StateNotCreated}
			byName[name] = s
			order = append(order, name)
		}
		return s
	}

	scanner := bufio.NewScanner(strings.NewReader(out))
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		fields := strings.Split(strings.TrimRight(scanner.Text(), "\r"), ",")
		if len(fields) < 4 || fields[1] == "" {
			continue
		}
		target, kind := fields[1], fields[2]
		data := fields[3:]

		switch kind {
		case "state":
			s := get(target)
			s.RawState = unescape(data[0])
			s.State = engine.ParseLifecycleState(s.RawState)
		case "provider-name":
			get(target).Provider = unescape(data[0])
		case "metadata":
			if len(data) >= 2 && data[0] == "provider" {
				get(target).Provider = unescape(data[1])
			}
		}
	}

	statuses := make([]engine.LiveInstanceStatus, 0, len(order))
	for _, name := range order {
		statuses = append(statuses, *byName[name])
	}
	return statuses
}

// ParseSSHConfig reads `vagrant ssh-config` output into key/value pairs.
// The first occurrence of a key wins; surrounding quotes are removed.
func ParseSSHConfig(out string) map[string]string {
	conf := make(map[string]string)
	scanner := bufio.NewScanner(strings.NewReader(out))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, " ")
		if !ok {
			continue
		}
		value = strings.TrimSpace(value)
		if len(value) >= 2 && value[0] == '"' && value[len(value)-1] == '"' {
			value = value[1 : len(value)-1]
		}
		if _, seen := conf[key]; !seen {
			conf[key] = value
		}
	}
	return conf
}

var machineReadable = strings.NewReplacer(
	"%!(VAGRANT_COMMA)", ",",
	`\n`, "\n",
	`\r`, "\r",
)

func unescape(s string) string {
	return machineReadable.Replace(s)
}
