// Command pagerender renders one page of a document to an image file without starting the server
package main

import (
	"context"
	"flag"
	"fmt"
	"image"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/disintegration/imaging"

	config "github.com/drummonds/goviewer/config"
	"github.com/drummonds/goviewer/document"
	"github.com/drummonds/goviewer/document/backends"
	"github.com/drummonds/goviewer/pixcache"
	"github.com/drummonds/goviewer/render"
	"github.com/drummonds/goviewer/search"
)

// Logger is global since we will need it everywhere
var Logger *slog.Logger

// injectGlobals injects all of our globals into their packages
func injectGlobals(logger *slog.Logger) {
	Logger = logger
	config.Logger = Logger
	document.Logger = Logger
	backends.Logger = Logger
	pixcache.Logger = Logger
	render.Logger = Logger
	search.Logger = Logger
}

type options struct {
	path     string
	out      string
	page     int
	zoom     float64
	width    int
	rotation int
	backend  string
	info     bool
	query    string
	timeout  time.Duration
}

func parseFlags() options {
	var o options
	flag.StringVar(&o.out, "out", "page.png", "Output image, the extension picks the format")
	flag.IntVar(&o.page, "page", 0, "Zero based page index")
	flag.Float64Var(&o.zoom, "zoom", 1, "Zoom factor")
	flag.IntVar(&o.width, "width", 0, "Fit the page to this many pixels wide, overrides -zoom")
	flag.IntVar(&o.rotation, "rotation", 0, "Clockwise rotation in degrees")
	flag.StringVar(&o.backend, "backend", "", "Backend to open the file with instead of the ranked choice")
	flag.BoolVar(&o.info, "info", false, "Print metadata, fonts and outline instead of rendering")
	flag.StringVar(&o.query, "find", "", "Print every occurrence of this text instead of rendering")
	flag.DurationVar(&o.timeout, "timeout", time.Minute, "Give up after this long")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: %s [flags] <document>\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()
	o.path = flag.Arg(0)
	return o
}

func main() {
	o := parseFlags()
	if o.path == "" {
		flag.Usage()
		os.Exit(2)
	}
	viewerConfig, logger := config.SetupViewer()
	injectGlobals(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	if err := run(ctx, viewerConfig, o); err != nil {
		Logger.Error("pagerender failed", "path", o.path, "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, viewerConfig config.ViewerConfig, o options) error {
	registry := document.NewRegistry(document.Preferences{Order: viewerConfig.BackendOrder, Overrides: viewerConfig.BackendOverrides})
	bundle := backends.DefaultBackends(viewerConfig)
	defer bundle.Close()
	if err := bundle.RegisterAll(registry); err != nil {
		return err
	}

	var (
		doc *document.Document
		err error
	)
	if o.backend != "" {
		doc, err = registry.OpenWith(ctx, o.path, o.backend)
	} else {
		doc, err = registry.Open(ctx, o.path)
	}
	if err != nil {
		return err
	}
	defer doc.Close()

	switch {
	case o.info:
		return printInfo(doc)
	case o.query != "":
		return find(ctx, doc, o.query)
	}
	return renderPage(ctx, viewerConfig, doc, o)
}

func printInfo(doc *document.Document) error {
	meta, err := doc.Metadata()
	if err != nil {
		return err
	}
	fmt.Printf("%s\n  type: %s\n  backend: %s\n  pages: %d\n", doc.Path(), doc.MimeType(), doc.BackendName(), doc.PageCount())
	for _, field := range []struct{ name, value string }{
		{"title", meta.Title}, {"author", meta.Author}, {"subject", meta.Subject}, {"keywords", meta.Keywords},
		{"creator", meta.Creator}, {"producer", meta.Producer}, {"created", meta.Created}, {"modified", meta.Modified},
	} {
		if field.value != "" {
			fmt.Printf("  %s: %s\n", field.name, field.value)
		}
	}
	if fonts, err := doc.Fonts(); err == nil && len(fonts) > 0 {
		fmt.Println("fonts:")
		for _, f := range fonts {
			fmt.Printf("  %s (embedded: %t)\n", f.Name, f.Embedded)
		}
	}
	if outline, err := doc.Outline(); err == nil && len(outline) > 0 {
		fmt.Println("outline:")
		for _, item := range outline {
			fmt.Printf("  %s%s ... %d\n", strings.Repeat("  ", item.Level), item.Title, item.Page+1)
		}
	}
	return nil
}

func find(ctx context.Context, doc *document.Document, query string) error {
	engine := search.NewEngine()
	defer engine.Close()
	session, err := engine.StartSearch(doc, query, search.Options{}, search.ObserverFuncs{
		Found: func(occ search.Occurrence) {
			fmt.Printf("page %d: %q at (%.1f, %.1f)\n", occ.Page+1, occ.Text, occ.Rect.X, occ.Rect.Y)
		},
		Complete: func(total int) {
			fmt.Printf("%d occurrences\n", total)
		},
	})
	if err != nil {
		return err
	}
	state, err := session.Wait(ctx)
	if err != nil {
		session.Cancel()
		return err
	}
	if state != search.Completed {
		return fmt.Errorf("search %s", state)
	}
	return nil
}

func renderPage(ctx context.Context, viewerConfig config.ViewerConfig, doc *document.Document, o options) error {
	page, err := doc.GetPage(o.page)
	if err != nil {
		return err
	}
	rotation, err := document.NormalizeRotation(o.rotation)
	if err != nil {
		return err
	}
	zoom := o.zoom
	if o.width > 0 {
		size, err := page.IntrinsicSize()
		if err != nil {
			return err
		}
		zoom = document.FitWidth(size, rotation, o.width)
	}
	req, err := document.NewRenderRequest(doc.ID(), o.page, zoom, o.rotation, image.Rectangle{})
	if err != nil {
		return err
	}

	scheduler := render.New(pixcache.New(viewerConfig.CacheCapacityBytes()), 1)
	defer scheduler.Close()
	scheduler.Track(doc)
	handle := scheduler.RequestRender(req, render.Visible)
	defer handle.Release()
	px, err := handle.Wait(ctx)
	if err != nil {
		handle.Cancel()
		return err
	}
	if err := imaging.Save(px.Image, o.out); err != nil {
		return err
	}
	b := px.Image.Bounds()
	Logger.Info("Page rendered", "page", o.page, "zoom", req.Zoom, "size", fmt.Sprintf("%dx%d", b.Dx(), b.Dy()), "out", o.out)
	return nil
}
