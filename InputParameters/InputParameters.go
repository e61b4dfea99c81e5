package InputParameters

import (
	"fmt"
	"sort"

	"github.com/ghodss/yaml"
	"github.com/spf13/cast"
)

// Parameters obtained from the YAML input file
type AssemblyParameters struct {
	Title     string                            `yaml:"Title"`
	Problem   string                            `yaml:"Problem"`  // poisson, mass or mixed
	CellType  string                            `yaml:"CellType"` // interval or triangle
	Cells     []int                             `yaml:"Cells"`    // Cells per direction
	BlockSize int                               `yaml:"BlockSize"`
	Source    float64                           `yaml:"Source"`
	BCs       map[string]map[string]interface{} `yaml:"BCs"` // First key is the boundary name, second is parameter name
	Verbose   bool                              `yaml:"Verbose"`
}

// DirichletParameters is one entry of BCs with its values converted
type DirichletParameters struct {
	Boundary string
	Method   string
	Value    float64
}

func (ip *AssemblyParameters) Parse(data []byte) (err error) {
	if err = yaml.Unmarshal(data, ip); err != nil {
		return
	}
	if ip.BlockSize == 0 {
		ip.BlockSize = 1
	}
	if len(ip.CellType) == 0 {
		ip.CellType = "interval"
	}
	return
}

// Dirichlet converts the loosely typed BCs, sorted by boundary name
func (ip *AssemblyParameters) Dirichlet() (bcs []DirichletParameters, err error) {
	for _, name := range ip.boundaryNames() {
		params := ip.BCs[name]
		bc := DirichletParameters{Boundary: name, Method: "topological"}
		if v, ok := params["Value"]; ok {
			if bc.Value, err = cast.ToFloat64E(v); err != nil {
				return nil, fmt.Errorf("BCs[%s].Value: %w", name, err)
			}
		}
		if m, ok := params["Method"]; ok {
			if bc.Method, err = cast.ToStringE(m); err != nil {
				return nil, fmt.Errorf("BCs[%s].Method: %w", name, err)
			}
		}
		bcs = append(bcs, bc)
	}
	return
}

func (ip *AssemblyParameters) boundaryNames() (keys []string) {
	keys = make([]string, len(ip.BCs))
	i := 0
	for k := range ip.BCs {
		keys[i] = k
		i++
	}
	sort.Strings(keys)
	return
}

func (ip *AssemblyParameters) Print() {
	fmt.Printf("\"%s\"\t\t= Title\n", ip.Title)
	fmt.Printf("[%s]\t\t\t= Problem\n", ip.Problem)
	fmt.Printf("[%s]\t\t= Cell Type\n", ip.CellType)
	fmt.Printf("%v\t\t\t= Cells\n", ip.Cells)
	fmt.Printf("[%d]\t\t\t\t= Block Size\n", ip.BlockSize)
	fmt.Printf("%8.5f\t\t= Source\n", ip.Source)
	for _, key := range ip.boundaryNames() {
		fmt.Printf("BCs[%s] = %v\n", key, ip.BCs[key])
	}
}
