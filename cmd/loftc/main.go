package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"strings"

	"k8s.io/klog/v2"

	"github.com/sbl8/loft/examples"
	"github.com/sbl8/loft/schedule"
	"github.com/sbl8/loft/target"
	"github.com/sbl8/loft/transform"
)

func main() {
	var (
		kernelName = flag.String("kernel", "rank-one", "Built-in example kernel: "+strings.Join(examples.Names, ", "))
		deviceName = flag.String("device", "gpu", "Target device (gpu, host)")
		dump       = flag.Bool("dump", false, "Print the kernel dump after preprocessing")
		dot        = flag.Bool("dot", false, "Print the instruction dependency graph in DOT format")
		noSched    = flag.Bool("no-schedule", false, "Stop after preprocessing, do not schedule")
		version    = flag.Bool("version", false, "Show version information")
	)
	klog.InitFlags(nil)
	flag.Parse()

	if *version {
		fmt.Println("loftc - Loft Kernel Compiler v1.0.0")
		fmt.Println("Built with Go", "1.22.2")
		return
	}

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

	k, err := examples.Build(*kernelName)
	if err != nil {
		log.Fatalf("building kernel failed: %v", err)
	}

	k, err = transform.Preprocess(k, dev)
	if err != nil {
		log.Fatalf("preprocessing failed: %v", err)
	}

	if *dump {
		fmt.Println(k)
	}
	if *dot {
		fmt.Print(k.DependencyGraphDot())
	}
	if *noSched {
		return
	}

	sched, err := schedule.Generate(k, schedule.Options{})
	if err != nil {
		log.Fatalf("scheduling failed: %v", err)
	}
	if err := schedule.Verify(k, sched); err != nil {
		log.Fatalf("schedule verification failed: %v", err)
	}
	fmt.Print(sched)
}
