package main

import (
	"flag"
	"fmt"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/sbl8/loft/examples"
	"github.com/sbl8/loft/schedule"
	"github.com/sbl8/loft/target"
	"github.com/sbl8/loft/transform"
)

var (
	kernelName = flag.String("kernel", "all", "Kernel to time: all, or one of the built-in examples")
	iter       = flag.Int("iter", 100, "Number of iterations")
	deviceName = flag.String("device", "gpu", "Target device (gpu, host)")
)

func main() {
	flag.Parse()

	fmt.Printf("Loft Compile Performance Tool\n")
	fmt.Printf("=============================\n")
	fmt.Printf("Go Version: %s\n", runtime.Version())
	fmt.Printf("OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
	fmt.Printf("CPUs: %d\n", runtime.NumCPU())
	fmt.Printf("Iterations: %d\n", *iter)
	fmt.Printf("\n")

	var dev target.Device
	switch *deviceName {
	case "gpu":
		dev = target.Default()
	case "host":
		dev = target.DetectHost()
	default:
		fmt.Fprintf(os.Stderr, "unknown device %q (want gpu or host)\n", *deviceName)
		os.Exit(1)
	}
	fmt.Printf("Device: %s (%d group / %d local axes)\n\n",
		dev.Name, dev.MaxGroupAxes, dev.MaxLocalAxes())

	names := examples.Names
	if *kernelName != "all" {
		names = []string{*kernelName}
	}
	for _, name := range names {
		if err := timeKernel(name, dev, *iter); err != nil {
			fmt.Fprintf(os.Stderr, "%s: %v\n", name, err)
			os.Exit(1)
		}
	}
}

// timeKernel measures the three compilation stages separately: kernel
// construction (including its transformations), preprocessing, and
// scheduling.
func timeKernel(name string, dev target.Device, iterations int) error {
	fmt.Printf("%s\n", name)
	fmt.Printf("%s\n", strings.Repeat("-", len(name)))

	start := time.Now()
	var items int
	for i := 0; i < iterations; i++ {
		k, err := examples.Build(name)
		if err != nil {
			return err
		}
		buildDone := time.Now()

		k, err = transform.Preprocess(k, dev)
		if err != nil {
			return err
		}
		preDone := time.Now()

		sched, err := schedule.Generate(k, schedule.Options{})
		if err != nil {
			return err
		}
		items = len(sched.Items)

		if i == 0 {
			fmt.Printf("  build:      %v\n", buildDone.Sub(start))
			fmt.Printf("  preprocess: %v\n", preDone.Sub(buildDone))
			fmt.Printf("  schedule:   %v (%d item(s))\n", time.Since(preDone), items)
		}
	}
	total := time.Since(start)
	fmt.Printf("  total:      %v for %d iteration(s), %v/compile\n\n",
		total, iterations, total/time.Duration(iterations))
	return nil
}
