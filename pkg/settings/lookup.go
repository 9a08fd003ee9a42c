package settings

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"

	"github.com/sethvargo/go-envconfig"
)

// secretsLookuper resolves a key from a file named after its lowercase form in
// dir, the way orchestrators surface secrets as mounted files.
func secretsLookuper(dir string) envconfig.Lookuper {
	return lookupFunc(func(key string) (string, bool) {
		if dir == "" {
			return "", false
		}
		data, err := os.ReadFile(filepath.Join(dir, strings.ToLower(key)))
		if err != nil {
			return "", false
		}
		return strings.TrimSpace(string(data)), true
	})
}

// envFileLookuper resolves keys from a KEY=VALUE file. A missing file is not
// an error; the lookuper just never matches.
func envFileLookuper(path string) envconfig.Lookuper {
	values := parseEnvFile(path)
	return lookupFunc(func(key string) (string, bool) {
		v, ok := values[key]
		return v, ok
	})
}

func parseEnvFile(path string) map[string]string {
	f, err := os.Open(path)
	if err != nil {
		return nil
	}
	defer f.Close()

	values := make(map[string]string)
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimPrefix(line, "export ")
		eq := strings.Index(line, "=")
		if eq < 0 {
			continue
		}
		key := strings.TrimSpace(line[:eq])
		val := strings.TrimSpace(line[eq+1:])
		val = strings.Trim(val, `"'`)
		if key != "" {
			values[key] = val
		}
	}
	return values
}

type lookupFunc func(key string) (string, bool)

func (f lookupFunc) Lookup(key string) (string, bool) {
	return f(key)
}
