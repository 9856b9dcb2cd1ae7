package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"openrecords-be/internal/bootstrap"
	"openrecords-be/internal/config"
	"openrecords-be/internal/keyvault"
	"openrecords-be/internal/model"
	"openrecords-be/internal/pkg/logger"
	"openrecords-be/internal/repository/specification"
	"openrecords-be/internal/service"
	"openrecords-be/pkg/database"
	"openrecords-be/pkg/events"
	pktNats "openrecords-be/pkg/nats"

	"github.com/fatih/color"
	"github.com/google/uuid"
)

const usage = `usage: openrecords <command> [flags]

commands:
  ingest         -user <login> -record <id> <file>...
  query          -user <login> -record <id> [-k 5] [-model m] <question>
  status         -user <login> -record <id>
  reindex        -user <login> -record <id> [-model m]
  rotate-secret  -new-secret <secret>
  watch          [-type document.indexed]`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd, args := os.Args[1], os.Args[2:]
	var err error
	switch cmd {
	case "ingest":
		err = runIngest(ctx, args)
	case "query":
		err = runQuery(ctx, args)
	case "status":
		err = runStatus(ctx, args)
	case "reindex":
		err = runReindex(ctx, args)
	case "rotate-secret":
		err = runRotateSecret(ctx, args)
	case "watch":
		err = runWatch(ctx, args)
	default:
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}
	if err != nil {
		color.Red("✗ %v", err)
		os.Exit(1)
	}
}

// open builds the same container the REST server uses.
func open() (*bootstrap.Container, error) {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	db, err := database.NewGormDBFromDSN(cfg.Database.Connection)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	if err := model.Migrate(db); err != nil {
		return nil, err
	}
	return bootstrap.NewContainer(db, cfg, logger.NewZapLogger(cfg.App.LogFilePath, cfg.IsProduction()))
}

type scope struct {
	user   string
	record string
}

func (s *scope) bind(fs *flag.FlagSet) {
	fs.StringVar(&s.user, "user", "", "username or email of the record owner")
	fs.StringVar(&s.record, "record", "", "record id")
}

func (s *scope) resolve(ctx context.Context, c *bootstrap.Container) (uuid.UUID, uuid.UUID, error) {
	if s.user == "" || s.record == "" {
		return uuid.Nil, uuid.Nil, fmt.Errorf("-user and -record are required")
	}
	recordId, err := uuid.Parse(s.record)
	if err != nil {
		return uuid.Nil, uuid.Nil, fmt.Errorf("-record must be a valid id")
	}

	login := strings.TrimSpace(s.user)
	if strings.Contains(login, "@") {
		login = strings.ToLower(login)
	}
	user, err := c.UowFactory.NewUnitOfWork(ctx).UserRepository().FindOne(ctx, specification.ByLogin{Login: login})
	if err != nil {
		return uuid.Nil, uuid.Nil, err
	}
	if user == nil {
		return uuid.Nil, uuid.Nil, fmt.Errorf("user %q not found", s.user)
	}
	return user.Id, recordId, nil
}

func runIngest(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("ingest", flag.ExitOnError)
	var sc scope
	sc.bind(fs)
	fs.Parse(args)
	if fs.NArg() == 0 {
		return fmt.Errorf("no files given")
	}

	c, err := open()
	if err != nil {
		return err
	}
	defer c.Close()

	userId, recordId, err := sc.resolve(ctx, c)
	if err != nil {
		return err
	}

	failed := 0
	for _, path := range fs.Args() {
		content, err := os.ReadFile(path)
		if err != nil {
			color.Red("✗ %s: %v", path, err)
			failed++
			continue
		}

		res, err := c.IngestionService.Ingest(ctx, userId, recordId, filepath.Base(path), content)
		switch {
		case err != nil:
			color.Red("✗ %s: %v", path, err)
			failed++
		case res.FailedStage != "":
			color.Yellow("! %s failed at %s: %s (document %s)", path, res.FailedStage, res.Reason, res.DocumentId)
			failed++
		default:
			color.Green("✓ %s: %d chunks, %d embedded (document %s)", path, res.ChunkCount, res.EmbeddedNow, res.DocumentId)
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d files did not ingest", failed, fs.NArg())
	}
	return nil
}

func runQuery(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("query", flag.ExitOnError)
	var sc scope
	sc.bind(fs)
	topK := fs.Int("k", 0, "number of chunks to retrieve (0 uses the server default)")
	modelName := fs.String("model", "", "chat model override")
	fs.Parse(args)
	question := strings.Join(fs.Args(), " ")

	c, err := open()
	if err != nil {
		return err
	}
	defer c.Close()

	userId, recordId, err := sc.resolve(ctx, c)
	if err != nil {
		return err
	}

	res, err := c.RetrievalService.Query(ctx, userId, recordId, service.QueryInput{
		Text:  question,
		TopK:  *topK,
		Model: *modelName,
	})
	if err != nil {
		return err
	}

	fmt.Println(res.Answer)
	if res.NoSources {
		color.Yellow("\n(no matching sources)")
		return nil
	}

	color.Cyan("\nSources (%s%s):", res.Model, cachedSuffix(res.Cached))
	for i, cite := range res.Citations {
		page := ""
		if cite.PageNumber != nil {
			page = fmt.Sprintf(" p.%d", *cite.PageNumber)
		}
		fmt.Printf("  [%d] %s%s #%d  score %.3f\n", i+1, cite.Filename, page, cite.Ordinal, cite.Score)
	}
	return nil
}

func cachedSuffix(cached bool) string {
	if cached {
		return ", cached"
	}
	return ""
}

func runStatus(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	var sc scope
	sc.bind(fs)
	fs.Parse(args)

	c, err := open()
	if err != nil {
		return err
	}
	defer c.Close()

	userId, recordId, err := sc.resolve(ctx, c)
	if err != nil {
		return err
	}

	record, err := c.RecordService.Show(ctx, userId, recordId)
	if err != nil {
		return err
	}
	docs, err := c.RecordService.ListDocuments(ctx, userId, recordId)
	if err != nil {
		return err
	}

	color.Cyan("%s (%d documents, embedding model %s)", record.Name, len(docs), record.EmbeddingModel)
	for _, d := range docs {
		line := fmt.Sprintf("  %-10s %s  %d chunks  %s", d.Status, d.Id, d.ChunkCount, d.Filename)
		switch d.Status {
		case "complete":
			color.Green("%s", line)
		case "failed":
			color.Red("%s  (%s: %s)", line, d.FailedStage, d.FailureReason)
		default:
			color.Yellow("%s", line)
		}
	}
	return nil
}

// runReindex re-embeds every document of a record in this process.
func runReindex(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("reindex", flag.ExitOnError)
	var sc scope
	sc.bind(fs)
	modelName := fs.String("model", "", "new embedding model for the record")
	fs.Parse(args)

	c, err := open()
	if err != nil {
		return err
	}
	defer c.Close()

	userId, recordId, err := sc.resolve(ctx, c)
	if err != nil {
		return err
	}

	res, err := c.IngestionService.Reindex(ctx, userId, recordId, *modelName)
	if err != nil {
		return err
	}
	color.Cyan("reindexing %d documents with %s", len(res.Documents), res.EmbeddingModel)

	failed := 0
	for _, id := range res.Documents {
		out, err := c.IngestionService.Process(ctx, userId, id)
		switch {
		case err != nil:
			color.Red("✗ %s: %v", id, err)
			failed++
		case out.FailedStage != "":
			color.Yellow("! %s failed at %s: %s", id, out.FailedStage, out.Reason)
			failed++
		default:
			color.Green("✓ %s: %d embedded", id, out.EmbeddedNow)
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d documents did not reindex", failed, len(res.Documents))
	}
	return nil
}

// runRotateSecret re-wraps every user key under a new server secret. The
// server must be restarted with the new SERVER_SECRET afterwards.
func runRotateSecret(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("rotate-secret", flag.ExitOnError)
	newSecret := fs.String("new-secret", os.Getenv("NEW_SERVER_SECRET"), "replacement server secret")
	fs.Parse(args)
	if *newSecret == "" {
		return fmt.Errorf("-new-secret or NEW_SERVER_SECRET is required")
	}

	c, err := open()
	if err != nil {
		return err
	}
	defer c.Close()

	if *newSecret == c.Config.Security.ServerSecret {
		return fmt.Errorf("new secret equals the current one")
	}

	next, err := keyvault.New(*newSecret, keyvault.NewRepositoryKeyStore(c.UowFactory), c.Logger)
	if err != nil {
		return err
	}
	n, err := c.AuthService.RotateServerSecret(ctx, next)
	if err != nil {
		return err
	}

	color.Green("✓ re-wrapped %d user keys", n)
	color.Yellow("restart the server with the new SERVER_SECRET")
	return nil
}

func runWatch(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	eventType := fs.String("type", "", "event type filter, e.g. document.indexed")
	fs.Parse(args)

	cfg := config.Load()
	if cfg.App.NatsURL == "" {
		return fmt.Errorf("NATS_URL is not set")
	}

	sub, err := pktNats.NewSubscriber(cfg.App.NatsURL)
	if err != nil {
		return err
	}
	defer sub.Close()

	color.Cyan("watching %s events (ctrl-c to stop)", orAll(*eventType))
	return sub.Follow(ctx, *eventType, func(_ context.Context, e events.BaseEvent) error {
		ts := e.OccurredAt.Format("15:04:05")
		switch e.Type {
		case events.TypeDocumentFailed:
			color.Red("%s %s %v", ts, e.Type, e.Data)
		case events.TypeDocumentIndexed, events.TypeExportCompleted:
			color.Green("%s %s %v", ts, e.Type, e.Data)
		default:
			fmt.Printf("%s %s %v\n", ts, e.Type, e.Data)
		}
		return nil
	})
}

func orAll(eventType string) string {
	if eventType == "" {
		return "all"
	}
	return eventType
}
