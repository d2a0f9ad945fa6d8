package security

import "strings"

// Deployment contexts with a built-in profile.
const (
	ContextDevelopment = "development"
	ContextTesting     = "testing"
	ContextProduction  = "production"
)

// Contexts lists the built-in deployment contexts.
var Contexts = []string{ContextDevelopment, ContextTesting, ContextProduction}

var (
	secretFileNegations = []string{
		"!**/.env",
		"!**/.env.*",
		"!**/*.pem",
		"!**/*.key",
		"!**/id_rsa*",
		"!**/id_ed25519*",
		"!~/.ssh",
		"!~/.aws",
		"!~/.gnupg",
		"!~/.config/gcloud",
		"!/etc/shadow",
		"!/etc/sudoers",
	}

	systemWriteNegations = []string{
		"!**/.git/**",
		"!/etc",
		"!/usr",
		"!/bin",
		"!/sbin",
		"!/boot",
		"!/var/lib",
	}

	destructivePatterns = []string{
		"rm -rf /",
		"rm -rf ~",
		"rm -rf *",
		"rm -fr /",
		":(){ :|:& };:",
		"mkfs",
		"dd if=",
		"> /dev/sd",
		"chmod -R 777 /",
		"git push --force",
		"git push -f",
		"git reset --hard origin",
		`re:(^|[;&|(\s])sudo\s`,
		`re:(curl|wget)[^|]*\|\s*(ba|z)?sh\b`,
		`re:(^|[;&|\s])(shutdown|reboot|halt)\b`,
	}

	// metadataDeny covers loopback, link-local and cloud metadata endpoints.
	metadataDeny = []string{
		"127.0.0.0/8",
		"::1/128",
		"0.0.0.0/8",
		"169.254.0.0/16",
		"fe80::/10",
		"fd00:ec2::254/128",
		"localhost",
		"metadata.google.internal",
		"metadata.azure.internal",
	}

	secretEnvPatterns = []string{
		"*_TOKEN",
		"*_SECRET",
		"*_SECRET_*",
		"*_KEY",
		"*_PASSWORD",
		"*PASSWD*",
		"*_CREDENTIALS",
		"*_API_KEY",
		"AWS_*",
		"DATABASE_URL",
	}

	baseEnvVars = []string{
		"PATH", "HOME", "USER", "SHELL", "LANG", "LC_*", "TERM", "PWD", "TMPDIR",
	}

	packageRegistries = []string{
		"pypi.org",
		"*.pypi.org",
		"files.pythonhosted.org",
		"registry.npmjs.org",
		"proxy.golang.org",
		"sum.golang.org",
		"crates.io",
		"*.crates.io",
	}
)

// DefaultProfile returns the built-in profile for a deployment context. The
// second result is false when the context is unknown and the development
// profile was substituted.
func DefaultProfile(context string) (*Profile, bool) {
	switch strings.ToLower(strings.TrimSpace(context)) {
	case ContextDevelopment, "dev", "":
		return developmentProfile(), true
	case ContextTesting, "test":
		return testingProfile(), true
	case ContextProduction, "prod":
		return productionProfile(), true
	default:
		return developmentProfile(), false
	}
}

func developmentProfile() *Profile {
	return &Profile{
		Name: ContextDevelopment,
		Filesystem: FilesystemRules{
			Read:  join([]string{"**"}, secretFileNegations),
			Write: join([]string{"**"}, secretFileNegations, systemWriteNegations),
		},
		Shell: ShellRules{
			AllowedCommands: []string{
				"git", "ls", "cat", "head", "tail", "wc", "grep", "rg", "find", "echo",
				"pwd", "cd", "diff", "sort", "uniq", "which", "mkdir", "touch", "cp", "mv",
				"go", "gofmt", "make", "npm", "npx", "node", "yarn", "pnpm",
				"python", "python3", "pip", "pip3", "pytest", "cargo", "rustc", "tee",
			},
			DeniedPatterns: join(destructivePatterns),
		},
		Network: NetworkRules{
			AllowedDomains: join([]string{"github.com", "*.github.com", "*.githubusercontent.com", "pkg.go.dev", "docs.python.org"}, packageRegistries),
			DeniedIPs:      join(metadataDeny),
		},
		Environment: EnvRules{
			AllowedVars: join(baseEnvVars, []string{
				"EDITOR", "CI", "NODE_ENV", "GOPATH", "GOROOT", "GOFLAGS",
				"PYTHONPATH", "VIRTUAL_ENV", "CARGO_HOME",
			}),
			DeniedPatterns: join(secretEnvPatterns),
		},
	}
}

func testingProfile() *Profile {
	return &Profile{
		Name: ContextTesting,
		Filesystem: FilesystemRules{
			Read: join([]string{"**"}, secretFileNegations),
			Write: join([]string{
				"**/tests/**", "**/test/**", "**/__tests__/**", "**/testdata/**",
				"**/test_*", "**/*_test.*", "**/*.test.*", "**/*.spec.*",
				"/tmp/**",
			}, secretFileNegations, systemWriteNegations),
		},
		Shell: ShellRules{
			AllowedCommands: []string{
				"git", "ls", "cat", "head", "tail", "wc", "grep", "rg", "find", "echo",
				"pwd", "diff", "go", "make", "npm", "npx", "node", "python", "python3",
				"pytest", "cargo",
			},
			DeniedPatterns: join(destructivePatterns, []string{"git push", "npm publish", "cargo publish"}),
		},
		Network: NetworkRules{
			AllowedDomains: join(packageRegistries),
			DeniedIPs:      join(metadataDeny),
		},
		Environment: EnvRules{
			AllowedVars:    join(baseEnvVars, []string{"CI", "NODE_ENV", "GOPATH", "GOFLAGS", "PYTHONPATH"}),
			DeniedPatterns: join(secretEnvPatterns),
		},
	}
}

func productionProfile() *Profile {
	return &Profile{
		Name: ContextProduction,
		Filesystem: FilesystemRules{
			Read:  join([]string{"**"}, secretFileNegations, []string{"!/etc/**", "!/root/**", "!/var/log/**"}),
			Write: join(secretFileNegations, systemWriteNegations),
		},
		Shell: ShellRules{
			AllowedCommands: []string{"ls", "cat", "head", "tail", "wc", "grep", "pwd", "echo"},
			DeniedPatterns: join(destructivePatterns, []string{
				"git push", "npm publish", "cargo publish", "kubectl delete", "terraform destroy",
				"docker rm", "docker rmi",
			}),
		},
		Network: NetworkRules{
			DeniedIPs: join(metadataDeny, []string{"10.0.0.0/8", "172.16.0.0/12", "192.168.0.0/16", "fc00::/7"}),
		},
		Environment: EnvRules{
			AllowedVars:    []string{"PATH", "HOME", "LANG", "TERM"},
			DeniedPatterns: join(secretEnvPatterns, []string{"*_DSN", "*_URL"}),
		},
	}
}

// join concatenates lists into a fresh slice so built-ins never share
// backing arrays.
func join(lists ...[]string) []string {
	n := 0
	for _, l := range lists {
		n += len(l)
	}
	out := make([]string, 0, n)
	for _, l := range lists {
		out = append(out, l...)
	}
	return out
}
