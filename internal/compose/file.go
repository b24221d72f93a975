package compose

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

type composeFile struct {
	Services map[string]struct {
		Image         string `yaml:"image"`
		ContainerName string `yaml:"container_name"`
		Ports         []any  `yaml:"ports"`
		Restart       string `yaml:"restart"`
	} `yaml:"services"`
}

// Services reads the services declared in a compose file, sorted by name
func Services(path string) ([]Service, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read compose file: %w", err)
	}

	var file composeFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse compose file: %w", err)
	}

	services := make([]Service, 0, len(file.Services))
	for name, svc := range file.Services {
		s := Service{
			Name:          name,
			Image:         svc.Image,
			ContainerName: svc.ContainerName,
			Restart:       svc.Restart,
		}
		for _, p := range svc.Ports {
			switch v := p.(type) {
			case string:
				s.Ports = append(s.Ports, v)
			case int:
				s.Ports = append(s.Ports, fmt.Sprint(v))
			case map[string]any:
				s.Ports = append(s.Ports, fmt.Sprintf("%v:%v", v["published"], v["target"]))
			}
		}
		services = append(services, s)
	}

	sort.Slice(services, func(i, j int) bool { return services[i].Name < services[j].Name })
	return services, nil
}
