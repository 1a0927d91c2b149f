// Command memflow-dump is a small terminal-forward CLI exercising the
// virtual-memory facade against a flat physical-memory image, in the
// style of tinyrange-cc/cmd/cc/main.go: stdlib flag parsing, log/slog for
// diagnostics, golang.org/x/term for terminal-aware output, and
// schollz/progressbar for a bulk-scan progress indicator.
package main

import (
	"encoding/hex"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/x/ansi"
	"github.com/schollz/progressbar/v3"
	"golang.org/x/term"
	"gopkg.in/yaml.v3"

	"github.com/tinyrange/memflow-go/arch"
	"github.com/tinyrange/memflow-go/backend/flatfile"
	"github.com/tinyrange/memflow-go/cache"
	"github.com/tinyrange/memflow-go/memtype"
	"github.com/tinyrange/memflow-go/vat"
	"github.com/tinyrange/memflow-go/vmem"
)

// config is the YAML shape accepted by -config, mirroring the teacher's
// flag-plus-config-file layering (flags override file values). It is
// deliberately small: memflow-dump is a diagnostic tool, not the VM
// supervisor cmd/ccapp configures.
type config struct {
	Image   string `yaml:"image"`
	Arch    string `yaml:"arch"`
	DTB     string `yaml:"dtb"`
	Addr    string `yaml:"addr"`
	Length  uint64 `yaml:"length"`
	Writable bool  `yaml:"writable"`
}

func loadConfig(path string) (config, error) {
	var c config
	data, err := os.ReadFile(path)
	if err != nil {
		return c, err
	}
	if err := yaml.Unmarshal(data, &c); err != nil {
		return c, fmt.Errorf("parse config %s: %w", path, err)
	}
	return c, nil
}

func parseHexAddr(s string) (memtype.Address, error) {
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	v, err := strconv.ParseUint(s, 16, 64)
	return memtype.Address(v), err
}

func selectArch(name string) *arch.Descriptor {
	switch name {
	case "x86_pae":
		return arch.AMD64PAE
	default:
		return arch.AMD64
	}
}

func main() {
	imagePath := flag.String("image", "", "Path to a flat physical-memory image")
	configPath := flag.String("config", "", "YAML config file; flags override its values")
	archName := flag.String("arch", "", "Paging mode: x86_64 (default) or x86_pae")
	dtbFlag := flag.String("dtb", "", "Directory table base, hex")
	addrFlag := flag.String("addr", "", "Virtual address to dump, hex")
	length := flag.Uint64("length", 256, "Number of bytes to dump")
	writable := flag.Bool("writable", false, "Open the image read-write")
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Usage = func() {
		fmt.Fprintln(os.Stderr, "memflow-dump: translate and hex-dump a range of virtual memory from a flat image")
		flag.PrintDefaults()
	}
	flag.Parse()

	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	cfg := config{Arch: "x86_64", Length: *length}
	if *configPath != "" {
		loaded, err := loadConfig(*configPath)
		if err != nil {
			slog.Error("load config", "error", err)
			os.Exit(1)
		}
		cfg = loaded
	}
	if *imagePath != "" {
		cfg.Image = *imagePath
	}
	if *archName != "" {
		cfg.Arch = *archName
	}
	if *dtbFlag != "" {
		cfg.DTB = *dtbFlag
	}
	if *addrFlag != "" {
		cfg.Addr = *addrFlag
	}
	if *length != 256 {
		cfg.Length = *length
	}
	if *writable {
		cfg.Writable = true
	}

	if cfg.Image == "" || cfg.DTB == "" || cfg.Addr == "" {
		flag.Usage()
		os.Exit(2)
	}

	dtb, err := parseHexAddr(cfg.DTB)
	if err != nil {
		slog.Error("parse dtb", "error", err)
		os.Exit(1)
	}
	addr, err := parseHexAddr(cfg.Addr)
	if err != nil {
		slog.Error("parse addr", "error", err)
		os.Exit(1)
	}

	backend, err := flatfile.Open(cfg.Image, cfg.Writable)
	if err != nil {
		slog.Error("open image", "error", err, "path", cfg.Image)
		os.Exit(1)
	}
	defer backend.Close()

	d := selectArch(cfg.Arch)
	tlb := cache.NewTLB(4096, d.BasePageSize, cache.NewTickValidator())
	pages := cache.NewPageCache(1024, d.BasePageSize, 5*time.Second, memtype.PageCacheableDefault, nil)
	cached := vat.New(backend, tlb, pages)
	mem := vmem.New(cached, d, dtb)

	slog.Debug("translating", "dtb", dtb, "addr", addr, "length", cfg.Length)

	buf := make([]byte, cfg.Length)
	if term.IsTerminal(int(os.Stderr.Fd())) && cfg.Length > 4096 {
		bar := progressbar.DefaultBytes(int64(cfg.Length), "reading")
		defer bar.Close()
		const chunk = uint64(4096)
		for off := uint64(0); off < cfg.Length; off += chunk {
			n := chunk
			if remaining := cfg.Length - off; remaining < chunk {
				n = remaining
			}
			if err := mem.ReadRawInto(addr.Add(memtype.Length(off)), buf[off:off+n]); err != nil {
				slog.Error("read", "error", err, "offset", off)
				os.Exit(1)
			}
			bar.Add(int(n))
		}
	} else if err := mem.ReadRawInto(addr, buf); err != nil {
		slog.Error("read", "error", err)
		os.Exit(1)
	}

	printHexDump(os.Stdout, addr, buf)
}

// printHexDump writes a classic offset/hex/ASCII dump. When stdout is not a
// terminal, ansi.Strip removes the escape codes a terminal-aware caller
// might otherwise have injected upstream, so redirecting output to a file
// never embeds control sequences.
func printHexDump(w *os.File, base memtype.Address, buf []byte) {
	toTerm := term.IsTerminal(int(w.Fd()))
	for off := 0; off < len(buf); off += 16 {
		end := off + 16
		if end > len(buf) {
			end = len(buf)
		}
		row := buf[off:end]
		line := fmt.Sprintf("%s  %-47s  %s", base.Add(memtype.Length(off)), hex.EncodeToString(row), asciiPreview(row))
		if !toTerm {
			line = ansi.Strip(line)
		}
		fmt.Fprintln(w, line)
	}
}

func asciiPreview(b []byte) string {
	var sb strings.Builder
	for _, c := range b {
		if c >= 0x20 && c < 0x7f {
			sb.WriteByte(c)
		} else {
			sb.WriteByte('.')
		}
	}
	return sb.String()
}
