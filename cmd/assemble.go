/*
Copyright © 2020 NAME HERE <EMAIL ADDRESS>

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/
package cmd

import (
	"fmt"
	"io"
	"io/ioutil"
	"math"
	"os"
	"runtime"

	perf "github.com/hodgesds/perf-utils"
	"github.com/pkg/profile"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/notargets/femassembler/InputParameters"
	"github.com/notargets/femassembler/comm"
	"github.com/notargets/femassembler/fem"
	"github.com/notargets/femassembler/la"
)

type Assembly struct {
	InputFile string
	Ranks     int
	Dense     bool
	Profile   string
	Perf      bool
}

// AssembleCmd represents the assemble command
var AssembleCmd = &cobra.Command{
	Use:   "assemble",
	Short: "Assemble the system described by an input file",
	Long: `
Builds the mesh, spaces, forms and boundary conditions of the input file,
assembles them on in-process ranks and reports the norms of the result,

femassembler assemble -I problem.yaml -n 4 --dense`,
	Run: func(cmd *cobra.Command, args []string) {
		asm := &Assembly{
			InputFile: viper.GetString("inputFile"),
			Ranks:     viper.GetInt("ranks"),
			Dense:     viper.GetBool("dense"),
			Profile:   viper.GetString("profile"),
			Perf:      viper.GetBool("perf"),
		}
		ip := processInput(asm)
		switch asm.Profile {
		case "":
		case "cpu":
			defer profile.Start(profile.CPUProfile, profile.ProfilePath(".")).Stop()
		case "mem":
			defer profile.Start(profile.MemProfile, profile.ProfilePath(".")).Stop()
		default:
			fmt.Printf("error: unknown profile %q, use cpu or mem\n", asm.Profile)
			os.Exit(1)
		}
		if err := RunWithCounters(asm, ip, os.Stdout); err != nil {
			fmt.Printf("error: %s\n", err.Error())
			os.Exit(1)
		}
	},
}

func init() {
	rootCmd.AddCommand(AssembleCmd)
	AssembleCmd.Flags().StringP("inputFile", "I", "", "YAML file describing the problem:\n\t- Problem (poisson, mass, mixed)\n\t- CellType, Cells\n\t- BCs")
	AssembleCmd.Flags().IntP("ranks", "n", 1, "number of in-process ranks")
	AssembleCmd.Flags().Bool("dense", false, "print the assembled system as dense arrays")
	AssembleCmd.Flags().String("profile", "", "write a cpu or mem profile to the working directory")
	AssembleCmd.Flags().Bool("perf", false, "count CPU instructions of the assembly (Linux only)")
	for _, name := range []string{"inputFile", "ranks", "dense", "profile", "perf"} {
		if err := viper.BindPFlag(name, AssembleCmd.Flags().Lookup(name)); err != nil {
			panic(err)
		}
	}
}

func processInput(asm *Assembly) (ip *InputParameters.AssemblyParameters) {
	var (
		err  error
		data []byte
	)
	if len(asm.InputFile) == 0 {
		err = fmt.Errorf("must supply an input parameters file (-I, --inputFile)")
		fmt.Printf("error: %s\n", err.Error())
		exampleFile := `
########################################
Title: "Test Case"
Problem: poisson # Can be "mass" or "mixed"
CellType: triangle
Cells: [8, 8]
Source: 1.
BCs:
  All:
    Value: 0.
    Method: topological # Can be "geometric" or "pointwise"
########################################
`
		fmt.Printf("Example File:%s\n", exampleFile)
		os.Exit(1)
	}
	if data, err = ioutil.ReadFile(asm.InputFile); err != nil {
		panic(err)
	}
	ip = &InputParameters.AssemblyParameters{}
	if err = ip.Parse(data); err != nil {
		panic(err)
	}
	return
}

// RunWithCounters runs the assembly, optionally under a CPU instruction
// counter. A counter that cannot be opened is reported and the assembly runs
// without it.
func RunWithCounters(asm *Assembly, ip *InputParameters.AssemblyParameters, out io.Writer) (err error) {
	if !asm.Perf {
		return RunAssembly(asm, ip, out)
	}
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	var (
		ran bool
		pv  *perf.ProfileValue
	)
	pv, err = perf.CPUInstructions(func() error {
		ran = true
		return RunAssembly(asm, ip, out)
	})
	switch {
	case err != nil && ran:
		return
	case err != nil:
		fmt.Fprintf(out, "perf counters unavailable: %s\n", err.Error())
		return RunAssembly(asm, ip, out)
	}
	fmt.Fprintf(out, "%d CPU instructions\n", pv.Value)
	return
}

// RunAssembly assembles the problem on asm.Ranks ranks, rank 0 writes the
// report to out
func RunAssembly(asm *Assembly, ip *InputParameters.AssemblyParameters, out io.Writer) error {
	if asm.Ranks < 1 {
		return fmt.Errorf("need at least one rank, have %d", asm.Ranks)
	}
	if ip.Verbose && asm.Ranks == 1 {
		ip.Print()
	}
	w := comm.NewWorld(asm.Ranks)
	return w.Run(func(c *comm.Comm) (err error) {
		var (
			p  *Problem
			as *fem.Assembler
			A  = la.NewMatrix("A")
			b  = la.NewVector("b")
		)
		if p, err = NewProblem(c, ip); err != nil {
			return
		}
		if as, err = fem.NewAssembler(p.A, p.L, p.BCs); err != nil {
			return
		}
		as.Verbose = ip.Verbose && c.Rank() == 0
		if err = as.AssembleMatrix(A); err != nil {
			return
		}
		var normA, normB float64
		if normA, err = A.SquaredNorm(); err != nil {
			return
		}
		if len(p.L) != 0 {
			if err = as.AssembleVector(b); err != nil {
				return
			}
			if normB, err = b.Norm(); err != nil {
				return
			}
		}
		var matrix, vector string
		if asm.Dense {
			var nnz int
			if nnz, err = storedEntries(c, A); err != nil {
				return
			}
			if matrix, err = A.Print(); err != nil {
				return
			}
			matrix = fmt.Sprintf("%d stored entries\n%s", nnz, matrix)
			if !b.Empty() {
				var x []float64
				if x, err = b.Gather(); err != nil {
					return
				}
				vector = fmt.Sprintf("b = %8.5f\n", x)
			}
		}
		if c.Rank() != 0 {
			return
		}
		r, cols := A.Dims()
		fmt.Fprintf(out, "%s: %d ranks, A is %d x %d, |A|_F = %.8g", ip.Title, c.Size(), r, cols, math.Sqrt(normA))
		if len(p.L) != 0 {
			fmt.Fprintf(out, ", |b| = %.8g", normB)
		}
		fmt.Fprintf(out, "\n%s%s", matrix, vector)
		return
	})
}

// storedEntries is collective, it counts the entries held in the compressed
// rows of every block over all ranks
func storedEntries(c *comm.Comm, A *la.Matrix) (nnz int, err error) {
	var (
		nr, nc = A.NestShape()
		local  int
	)
	for i := 0; i < nr; i++ {
		for j := 0; j < nc; j++ {
			B := A
			if A.IsNest() {
				if B = A.Block(i, j); B == nil {
					continue
				}
			}
			local += B.ToCSR().NNZ()
		}
	}
	var all []int
	if all, err = comm.AllGather(c, "storedEntries", local); err != nil {
		return
	}
	for _, n := range all {
		nnz += n
	}
	return
}
