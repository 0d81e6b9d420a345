package ssh

import (
	"cmp"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/openfroyo/boxctl/pkg/engine"
)

// Defaults used when vagrant ssh-config omits a value.
const (
	DefaultPort = 22
	DefaultUser = "vagrant"
)

// Config is where and how to reach one instance.
type Config struct {
	Host           string `validate:"required"`
	Port           int    `validate:"min=1,max=65535"`
	User           string `validate:"required"`
	PrivateKeyPath string `validate:"required"`

	// KnownHostsPath is only consulted with StrictHostKeyChecking.
	KnownHostsPath        string
	StrictHostKeyChecking bool

	ConnectionTimeout time.Duration `validate:"gt=0"`
}

var configValidator = validator.New()

// ConfigFromInstance maps the ssh-config values of an instance. Host keys are
// checked only when vagrant points at a real known_hosts file and does not
// turn StrictHostKeyChecking off.
func ConfigFromInstance(info engine.InstanceInfo) (*Config, error) {
	cfg := &Config{
		Host:              info.HostName,
		Port:              DefaultPort,
		User:              cmp.Or(info.User, DefaultUser),
		PrivateKeyPath:    info.IdentityFile,
		ConnectionTimeout: 10 * time.Second,
	}
	if info.Port != "" {
		port, err := strconv.Atoi(info.Port)
		if err != nil {
			return nil, fmt.Errorf("invalid port %q: %w", info.Port, err)
		}
		cfg.Port = port
	}

	if known := info.Options["UserKnownHostsFile"]; known != "/dev/null" {
		cfg.KnownHostsPath = known
	}
	cfg.StrictHostKeyChecking = cfg.KnownHostsPath != "" &&
		!strings.EqualFold(info.Options["StrictHostKeyChecking"], "no")

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that the config names a reachable endpoint and a key.
func (c *Config) Validate() error {
	if err := configValidator.Struct(c); err != nil {
		return fmt.Errorf("invalid ssh config: %w", err)
	}
	return nil
}

// BuildSSHClientConfig loads the private key and picks the host key callback.
func (c *Config) BuildSSHClientConfig() (*ssh.ClientConfig, error) {
	pem, err := os.ReadFile(c.PrivateKeyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read private key: %w", err)
	}
	signer, err := ssh.ParsePrivateKey(pem)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key %s: %w", c.PrivateKeyPath, err)
	}

	hostKeys, err := c.hostKeyCallback()
	if err != nil {
		return nil, err
	}

	return &ssh.ClientConfig{
		User:            c.User,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
		HostKeyCallback: hostKeys,
		Timeout:         c.ConnectionTimeout,
	}, nil
}

func (c *Config) hostKeyCallback() (ssh.HostKeyCallback, error) {
	if !c.StrictHostKeyChecking || c.KnownHostsPath == "" {
		// guests get new host keys on every bring-up
		return ssh.InsecureIgnoreHostKey(), nil
	}
	cb, err := knownhosts.New(c.KnownHostsPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load known_hosts: %w", err)
	}
	return cb, nil
}

// Address returns host:port, bracketing IPv6 hosts.
func (c *Config) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}
