package floorplan

import (
	_ "embed"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"office_server/server/office/domain"
)

//go:embed default.yaml
var defaultPlan []byte

type SpaceSpec struct {
	ID       string           `yaml:"id"`
	Name     string           `yaml:"name"`
	Type     domain.SpaceType `yaml:"type"`
	X        float64          `yaml:"x"`
	Y        float64          `yaml:"y"`
	Width    float64          `yaml:"width"`
	Height   float64          `yaml:"height"`
	Capacity int              `yaml:"capacity"`
}

func (s SpaceSpec) Bounds() domain.Rect {
	return domain.Rect{X: s.X, Y: s.Y, Width: s.Width, Height: s.Height}
}

type Plan struct {
	Stage  domain.Rect `yaml:"stage"`
	Spaces []SpaceSpec `yaml:"spaces"`
}

// Load reads the plan at path, or the embedded default when path is empty.
func Load(path string) (*Plan, error) {
	if strings.TrimSpace(path) == "" {
		return Default()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read floor plan: %w", err)
	}
	return Parse(data)
}

func Default() (*Plan, error) {
	return Parse(defaultPlan)
}

func Parse(data []byte) (*Plan, error) {
	var plan Plan
	if err := yaml.Unmarshal(data, &plan); err != nil {
		return nil, fmt.Errorf("parse floor plan: %w", err)
	}
	if plan.Stage == (domain.Rect{}) {
		plan.Stage = domain.DefaultStage
	}
	if err := plan.Validate(); err != nil {
		return nil, fmt.Errorf("invalid floor plan: %w", err)
	}
	return &plan, nil
}

func (p *Plan) Validate() error {
	if p.Stage.Width <= 0 || p.Stage.Height <= 0 {
		return fmt.Errorf("stage must have a positive size")
	}
	if len(p.Spaces) == 0 {
		return fmt.Errorf("at least one space is required")
	}
	seen := make(map[string]struct{}, len(p.Spaces))
	for i, space := range p.Spaces {
		id := strings.TrimSpace(space.ID)
		if id == "" {
			return fmt.Errorf("space #%d has no id", i)
		}
		if _, dup := seen[id]; dup {
			return fmt.Errorf("duplicate space id %q", id)
		}
		seen[id] = struct{}{}
		if !space.Type.Valid() {
			return fmt.Errorf("space %q has unknown type %q", id, space.Type)
		}
		if space.Capacity <= 0 {
			return fmt.Errorf("space %q capacity must be positive", id)
		}
		if space.Width <= 0 || space.Height <= 0 {
			return fmt.Errorf("space %q must have a positive size", id)
		}
		if !p.Stage.ContainsRect(space.Bounds()) {
			return fmt.Errorf("space %q lies outside the stage", id)
		}
	}
	return nil
}

// BuildSpaces returns empty, unlocked spaces ordered by id.
func (p *Plan) BuildSpaces() []domain.Space {
	spaces := make([]domain.Space, 0, len(p.Spaces))
	for _, spec := range p.Spaces {
		name := strings.TrimSpace(spec.Name)
		if name == "" {
			name = spec.ID
		}
		spaces = append(spaces, domain.Space{
			ID:        strings.TrimSpace(spec.ID),
			Name:      name,
			Type:      spec.Type,
			Bounds:    spec.Bounds(),
			Capacity:  spec.Capacity,
			Occupants: []string{},
		})
	}
	sort.Slice(spaces, func(i, j int) bool { return spaces[i].ID < spaces[j].ID })
	return spaces
}
