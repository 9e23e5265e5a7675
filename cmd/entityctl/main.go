// Command entityctl administers the catalog entities from the command line.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/alecthomas/kong"

	"github.com/tendant/simple-entity/internal/catalog"
	"github.com/tendant/simple-entity/pkg/entity"
	"github.com/tendant/simple-entity/pkg/entity/api"
	"github.com/tendant/simple-entity/pkg/entity/config"
	"github.com/tendant/simple-entity/pkg/entity/filterql"
)

// cli defines the command-line interface for entityctl.
type cli struct {
	Config   string `name:"config" short:"c" help:"JSONC config file" type:"path" default:"entity.jsonc"`
	Database string `name:"database" help:"Database URL, overrides config and DATABASE_URL"`
	Storage  string `name:"storage" help:"Storage URL, overrides config and STORAGE_URL"`

	Schema SchemaCmd `cmd:"" help:"Create or update the catalog info-blocks and print their properties"`
	List   ListCmd   `cmd:"" help:"List books matching a query"`
	Add    AddCmd    `cmd:"" help:"Add a book"`
	Upload UploadCmd `cmd:"" help:"Upload a file, optionally as the cover of a book"`
	Token  TokenCmd  `cmd:"" help:"Issue a bearer token for the API"`
}

// env is handed to every command's Run.
type env struct {
	ctx    context.Context
	cfg    *config.ServerConfig
	mapper *entity.Mapper
	out    io.Writer
}

// SchemaCmd builds the catalog schema.
type SchemaCmd struct{}

func (c *SchemaCmd) Run(e *env) error {
	if err := catalog.BuildSchema(e.ctx, e.mapper); err != nil {
		return err
	}
	if err := printSchema[catalog.Book](e); err != nil {
		return err
	}
	return printSchema[catalog.Author](e)
}

func printSchema[T any](e *env) error {
	em, err := entity.MapOf[T]()
	if err != nil {
		return err
	}
	iblock, err := e.mapper.InfoBlockOf(e.ctx, em)
	if err != nil {
		return err
	}
	props, err := e.mapper.Repository().ListProperties(e.ctx, iblock.ID)
	if err != nil {
		return err
	}

	fmt.Fprintf(e.out, "%s/%s (id %d)\n", iblock.Type, iblock.Code, iblock.ID)
	tw := tabwriter.NewWriter(e.out, 0, 4, 2, ' ', 0)
	for _, p := range props {
		fmt.Fprintf(tw, "  %s\t%s\t%s\t%s\n", p.Code, p.Type, p.UserType, p.Name)
	}
	return tw.Flush()
}

// ListCmd prints the books matching a filterql query.
type ListCmd struct {
	Query string `arg:"" optional:"" help:"Query, e.g. 'author % \"stevenson\" order by pagesNum desc'"`
	Limit int    `help:"Stop after this many books (0 = all)" default:"0"`
	JSON  bool   `name:"json" help:"Print JSON lines instead of a table"`
}

func (c *ListCmd) Run(e *env) error {
	sel, err := filterql.Select[catalog.Book](e.mapper, c.Query)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(e.out, 0, 4, 2, ' ', 0)
	if !c.JSON {
		fmt.Fprintln(tw, "ID\tTITLE\tAUTHOR\tPAGES\tACTIVE")
	}
	enc := json.NewEncoder(e.out)
	n := 0
	for book, err := range sel.All(e.ctx) {
		if err != nil {
			return err
		}
		if c.JSON {
			if err := enc.Encode(book); err != nil {
				return err
			}
		} else {
			fmt.Fprintf(tw, "%d\t%s\t%s\t%d\t%t\n", book.ID, book.Title, book.Author, book.PagesNum, book.IsShow)
		}
		n++
		if c.Limit > 0 && n >= c.Limit {
			break
		}
	}
	if c.JSON {
		return nil
	}
	return tw.Flush()
}

// AddCmd stores a new book.
type AddCmd struct {
	Title      string `required:"" help:"Book title"`
	Author     string `help:"Author name"`
	Pages      int    `help:"Number of pages"`
	Published  string `help:"Publication date (2006-01-02)"`
	Bestseller bool   `help:"Mark as bestseller"`
	Hidden     bool   `help:"Store as inactive"`
}

func (c *AddCmd) Run(e *env) error {
	book := &catalog.Book{
		Title:        c.Title,
		IsShow:       !c.Hidden,
		Author:       c.Author,
		PagesNum:     c.Pages,
		IsBestseller: c.Bestseller,
	}
	if c.Published != "" {
		t, err := time.ParseInLocation(time.DateOnly, c.Published, e.mapper.Location())
		if err != nil {
			return fmt.Errorf("invalid --published: %w", err)
		}
		book.PublishedAt = &t
	}

	id, err := entity.Save(e.ctx, e.mapper, book)
	if err != nil {
		return err
	}
	fmt.Fprintf(e.out, "created book %d\n", id)
	return nil
}

// UploadCmd stores a file and optionally sets it as a book's cover.
type UploadCmd struct {
	Path string `arg:"" help:"File to upload" type:"existingfile"`
	Book int64  `help:"Attach the file as the cover of this book"`
}

func (c *UploadCmd) Run(e *env) error {
	f, err := os.Open(c.Path)
	if err != nil {
		return err
	}
	defer f.Close()

	name := filepath.Base(c.Path)
	ref, err := e.mapper.UploadFile(e.ctx, entity.FileUpload{
		Name:        name,
		ContentType: mime.TypeByExtension(filepath.Ext(name)),
		Reader:      f,
		Scope:       "books",
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(e.out, "uploaded file %d\n", ref)

	if c.Book == 0 {
		return nil
	}
	book, err := entity.Get[catalog.Book](e.ctx, e.mapper, c.Book)
	if err != nil {
		return fmt.Errorf("book %d: %w", c.Book, err)
	}
	book.Cover = ref
	if _, err := entity.Save(e.ctx, e.mapper, book); err != nil {
		return err
	}
	fmt.Fprintf(e.out, "cover of book %d set\n", c.Book)
	return nil
}

// TokenCmd prints a signed API token.
type TokenCmd struct {
	Subject string        `default:"entityctl" help:"Token subject"`
	TTL     time.Duration `name:"ttl" default:"24h" help:"Token lifetime"`
}

func (c *TokenCmd) Run(e *env) error {
	if e.cfg.JWTSecret == "" {
		return errors.New("JWT_SECRET is not configured")
	}
	token, err := api.IssueToken(api.NewJWTAuth(e.cfg.JWTSecret), c.Subject, c.TTL)
	if err != nil {
		return err
	}
	fmt.Fprintln(e.out, token)
	return nil
}

func run(ctx context.Context, args []string, out io.Writer) error {
	var flags cli
	parser, err := kong.New(&flags,
		kong.Name("entityctl"),
		kong.Description("Manage catalog entities"),
		kong.UsageOnError(),
		kong.Writers(out, out),
		kong.ConfigureHelp(kong.HelpOptions{Compact: true}),
	)
	if err != nil {
		return err
	}
	kctx, err := parser.Parse(args)
	if err != nil {
		return err
	}

	opts := []config.Option{config.WithFile(flags.Config, false), config.WithEnv()}
	if flags.Database != "" {
		opts = append(opts, config.WithDatabaseURL(flags.Database))
	}
	if flags.Storage != "" {
		opts = append(opts, config.WithStorageURL(flags.Storage))
	}
	cfg, err := config.Load(opts...)
	if err != nil {
		return err
	}

	mapper, cleanup, err := cfg.BuildMapper(ctx, cfg.Logger())
	if err != nil {
		return err
	}
	defer cleanup()

	return kctx.Run(&env{ctx: ctx, cfg: cfg, mapper: mapper, out: out})
}

func main() {
	if err := run(context.Background(), os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "entityctl:", err)
		os.Exit(1)
	}
}
