package main

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"os"
	"path/filepath"
	"runtime/pprof"

	"github.com/davecgh/go-spew/spew"
	"github.com/spf13/pflag"

	"github.com/RaresCon/tock/capsules"
	"github.com/RaresCon/tock/image"
	"github.com/RaresCon/tock/kernel"
	clog "github.com/RaresCon/tock/log"
	"github.com/RaresCon/tock/mem"
	"github.com/RaresCon/tock/platform/sim"
)

// Board layout: where the app regions sit in the simulated address
// space. The kernel's own memory is outside both and never exposed.
const (
	appFlashBase = 0x00030000
	appRAMBase   = 0x20004000
)

var (
	fApps      = pflag.StringP("apps", "a", "", "directory of app images to load")
	fFlash     = pflag.Uint32("flash", 256*1024, "app flash region size in bytes")
	fRAM       = pflag.Uint32("ram", 64*1024, "app RAM region size in bytes")
	fSlots     = pflag.Int("slots", 4, "number of process slots")
	fTimeslice = pflag.Uint32("timeslice", 10000, "timeslice in timer ticks")
	fRestarts  = pflag.Int("restarts", 3, "fault restarts before a process is stopped")
	fSeed      = pflag.Int64("seed", 1, "entropy seed for the rng capsule")
	fDump      = pflag.Bool("dump", false, "dump parsed image headers")
)

func main() {
	cpuprofile := os.Getenv("CPUPROFILE")
	if cpuprofile != "" {
		f, err := os.Create(cpuprofile)
		if err != nil {
			log.Fatal("could not create CPU profile: ", err)
		}
		if err := pprof.StartCPUProfile(f); err != nil {
			log.Fatal("could not start CPU profile: ", err)
		}
		fmt.Printf("pprof: profiling started\n")
	}

	pflag.Parse()

	chip := sim.NewChip()

	loader := image.NewLoader(
		mem.Range{Start: appFlashBase, Size: *fFlash},
		mem.Range{Start: appRAMBase, Size: *fRAM},
		image.KernelVersion{Major: 2, Minor: 1},
		image.NewHeaderCache(),
	)

	conf := kernel.DefaultConfig()
	conf.Slots = *fSlots
	conf.Timeslice = *fTimeslice
	conf.Policy = kernel.FaultPolicy{Action: kernel.RestartLimit, MaxRestarts: *fRestarts}

	k, err := kernel.NewKernel(chip, loader, conf)
	if err != nil {
		log.Fatal(err)
	}

	console := capsules.NewConsole(k, os.Stdout)
	led := capsules.NewLed(4)
	rng := capsules.NewRng(k, rand.New(rand.NewSource(*fSeed)))

	mustRegister(k, capsules.AlarmDriver, capsules.NewAlarm(k))
	mustRegister(k, capsules.ConsoleDriver, console)
	mustRegister(k, capsules.LedDriver, led)
	mustRegister(k, capsules.RngDriver, rng)

	for _, img := range boardImages() {
		if *fDump {
			hdr, herr := image.ParseHeader(img)
			if herr == nil {
				fmt.Print(spew.Sdump(hdr))
			}
		}

		proc, lerr := k.Load(img)
		if lerr != nil {
			// One bad image never takes down the others.
			clog.L.Warn("image-rejected", "error", lerr)
			continue
		}

		chip.Scripts().AddProcess(proc.Index, demoScript(proc))
	}

	err = k.Run(context.Background())

	if cpuprofile != "" {
		pprof.StopCPUProfile()
		fmt.Printf("pprof: profiling finished\n")
	}

	if err != nil {
		log.Fatal(err)
	}
}

func mustRegister(k *kernel.Kernel, num uint32, d kernel.Driver) {
	if err := k.Register(num, d); err != nil {
		log.Fatal(err)
	}
}

// boardImages loads every image from --apps, or assembles the built-in
// demo pair when no directory is given.
func boardImages() [][]byte {
	if *fApps == "" {
		return demoImages()
	}

	matches, err := filepath.Glob(filepath.Join(*fApps, "*.tbf"))
	if err != nil {
		log.Fatal(err)
	}

	var out [][]byte

	for _, path := range matches {
		img, rerr := os.ReadFile(path)
		if rerr != nil {
			clog.L.Warn("image-unreadable", "path", path, "error", rerr)
			continue
		}

		out = append(out, img)
	}

	return out
}

func demoImages() [][]byte {
	var out [][]byte

	for _, name := range []string{"blink", "hello"} {
		msg := []byte(fmt.Sprintf("hello from %s\n", name))

		img := image.NewBuilder(name).
			Body(msg, 0).
			Data(uint32(len(msg))).
			RAM(1024, 512).
			MinKernel(2, 0).
			Checksum().
			Build()

		out = append(out, img)
	}

	return out
}

// demoScript exercises the capsule set: print the data segment to the
// console, blink an LED, wait out an alarm, blink again.
func demoScript(p *kernel.Process) []sim.Op {
	msgLen := p.DataSize()

	return []sim.Op{
		sim.Subscribe(capsules.ConsoleDriver, capsules.ConsoleWriteDone, sim.UpcallBase+1, 0),
		sim.AllowReadOnly(capsules.ConsoleDriver, capsules.ConsoleWriteBuffer, p.RAM.Start, msgLen),
		sim.Command(capsules.ConsoleDriver, 1, msgLen, 0),
		sim.Yield(1),
		sim.Command(capsules.LedDriver, 3, uint32(p.Index), 0),
		sim.Subscribe(capsules.AlarmDriver, capsules.AlarmFired, sim.UpcallBase+2, 0),
		sim.Command(capsules.AlarmDriver, 2, 500, 0),
		sim.Yield(1),
		sim.Command(capsules.LedDriver, 3, uint32(p.Index), 0),
	}
}
