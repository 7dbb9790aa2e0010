package remote

import (
	"fmt"
	"path"
	"sort"
	"strings"

	"github.com/wpdocker/wp-docker/pkg/constants"
)

// PathMapping rewrites host paths below Host to paths below Container
type PathMapping struct {
	Host      string
	Container string
}

// DefaultPathMappings reflect the volumes of the rclone helper container
func DefaultPathMappings() []PathMapping {
	return []PathMapping{
		{Host: constants.DataDir, Container: "/data"},
		{Host: constants.InstallDir, Container: "/"},
	}
}

// ParsePathMappings parses mappings in the form host=container
func ParsePathMappings(raw []string) ([]PathMapping, error) {
	var result []PathMapping
	for _, r := range raw {
		host, container, ok := strings.Cut(r, "=")
		if !ok || host == "" || container == "" {
			return nil, fmt.Errorf("invalid path mapping %q, must be in the form host=container", r)
		}
		if !path.IsAbs(host) || !path.IsAbs(container) {
			return nil, fmt.Errorf("invalid path mapping %q, paths must be absolute", r)
		}
		result = append(result, PathMapping{Host: path.Clean(host), Container: path.Clean(container)})
	}
	return result, nil
}

// PathMapper translates host paths into the filesystem view of a container
type PathMapper struct {
	mappings []PathMapping
}

// NewPathMapper returns a mapper where the longest matching host prefix wins
func NewPathMapper(mappings []PathMapping) *PathMapper {
	sorted := make([]PathMapping, 0, len(mappings))
	for _, m := range mappings {
		sorted = append(sorted, PathMapping{Host: path.Clean(m.Host), Container: path.Clean(m.Container)})
	}
	sort.SliceStable(sorted, func(i, j int) bool {
		return len(sorted[i].Host) > len(sorted[j].Host)
	})
	return &PathMapper{mappings: sorted}
}

// ToContainer translates hostPath, paths outside of every mapping cannot be reached from the container
func (m *PathMapper) ToContainer(hostPath string) (string, error) {
	cleaned := path.Clean(hostPath)
	for _, mapping := range m.mappings {
		if cleaned == mapping.Host {
			return mapping.Container, nil
		}
		prefix := mapping.Host
		if prefix != "/" {
			prefix += "/"
		}
		if rel, ok := strings.CutPrefix(cleaned, prefix); ok {
			return path.Join(mapping.Container, rel), nil
		}
	}
	return "", fmt.Errorf("path %q is not mounted into the helper container", hostPath)
}
