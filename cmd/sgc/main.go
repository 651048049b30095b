package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"sgc/internal/app"
	"sgc/internal/config"
	"sgc/internal/db"
	"sgc/internal/domain"
	"sgc/internal/engine"
	"sgc/internal/lifecycle"
	"sgc/internal/migrate"
	"sgc/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "sgc",
	Short: "SGC CLI",
	Long: `SGC acompanha campanhas de mapeamento de competências por unidade.
Conceitos:
- Workspace: o diretório .sgc com o banco; a configuração fica em sgc.yml.
- Diretório: unidades e usuários importados do SGRH (sgc diretorio importar).
- Processo: uma campanha (MAPEAMENTO, REVISAO ou DIAGNOSTICO) sobre um conjunto de unidades.
- Subprocesso: o fluxo de uma unidade dentro do processo, com sua trilha de situações.
- Ações: verbos como disponibilizar_cadastro e homologar_mapa movem o subprocesso; o acesso é regido pela tabela de políticas do sgc.yml.
- Movimentações e alertas: cada transição registra por onde o subprocesso passou e avisa os titulares.
- Impacto: na revisão, o mapa em edição é comparado com o último mapa homologado da unidade.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("SGC")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().StringP("usuario", "u", "", "acting user id")
	rootCmd.PersistentFlags().String("project", "", "project id (overrides config)")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("usuario", rootCmd.PersistentFlags().Lookup("usuario"))
	_ = viper.BindPFlag("project", rootCmd.PersistentFlags().Lookup("project"))
}

func registerCommands() {
	rootCmd.AddCommand(diretorioCmd())
	rootCmd.AddCommand(processoCmd())
	rootCmd.AddCommand(subprocessoCmd())
	rootCmd.AddCommand(mapaCmd())
	rootCmd.AddCommand(alertaCmd())
	rootCmd.AddCommand(painelCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(serveCmd())
}

// --- diretorio ---

type directoryFile struct {
	Units []struct {
		ID       int64  `yaml:"id"`
		Sigla    string `yaml:"sigla"`
		Name     string `yaml:"name"`
		Kind     string `yaml:"kind"`
		ParentID *int64 `yaml:"parent_id"`
		HolderID string `yaml:"holder_id"`
	} `yaml:"units"`
	Users []struct {
		ID      string `yaml:"id"`
		Name    string `yaml:"name"`
		Profile string `yaml:"profile"`
		UnitID  int64  `yaml:"unit_id"`
	} `yaml:"users"`
}

func diretorioCmd() *cobra.Command {
	dir := &cobra.Command{Use: "diretorio", Short: "Manage the SGRH directory"}
	dir.AddCommand(diretorioImportCmd())
	dir.AddCommand(diretorioUnitsCmd())
	dir.AddCommand(diretorioUsersCmd())
	return dir
}

func diretorioImportCmd() *cobra.Command {
	var filePath string
	cmd := &cobra.Command{
		Use:   "importar",
		Short: "Import units and users from YAML",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(filePath)
			if err != nil {
				return err
			}
			var file directoryFile
			if err := yaml.Unmarshal(data, &file); err != nil {
				return fmt.Errorf("invalid directory yaml: %w", err)
			}
			units := make([]domain.Unit, 0, len(file.Units))
			for _, u := range file.Units {
				units = append(units, domain.Unit{
					ID:       u.ID,
					Sigla:    u.Sigla,
					Name:     u.Name,
					Kind:     domain.UnitKind(u.Kind),
					ParentID: u.ParentID,
					HolderID: u.HolderID,
				})
			}
			users := make([]domain.User, 0, len(file.Users))
			for _, u := range file.Users {
				users = append(users, domain.User{
					ID:      u.ID,
					Name:    u.Name,
					Profile: domain.Profile(u.Profile),
					UnitID:  u.UnitID,
				})
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if err := e.ImportDirectory(ctx, units, users, viper.GetString("usuario")); err != nil {
					return err
				}
				fmt.Printf("Imported %d units and %d users\n", len(units), len(users))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&filePath, "file", "", "directory YAML file")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func diretorioUnitsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "unidades",
		Short: "List units",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListUnits(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Sigla", "Name", "Kind", "Parent", "Holder"})
				for _, u := range items {
					parent := ""
					if u.ParentID != nil {
						parent = strconv.FormatInt(*u.ParentID, 10)
					}
					tw.AppendRow(table.Row{u.ID, u.Sigla, u.Name, u.Kind, parent, u.HolderID})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func diretorioUsersCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "usuarios",
		Short: "List users",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListUsers(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Profile", "Unit"})
				for _, u := range items {
					tw.AppendRow(table.Row{u.ID, u.Name, u.Profile, u.UnitSigla})
				}
				tw.Render()
				return nil
			})
		},
	}
}

// --- processo ---

func processoCmd() *cobra.Command {
	prc := &cobra.Command{Use: "processo", Short: "Manage processes"}
	prc.AddCommand(processoCriarCmd())
	prc.AddCommand(processoListarCmd())
	prc.AddCommand(processoMostrarCmd())
	prc.AddCommand(processoIniciarCmd())
	prc.AddCommand(processoFinalizarCmd())
	prc.AddCommand(processoEventosCmd())
	return prc
}

func processoCriarCmd() *cobra.Command {
	var desc, tipo, deadline, unitsFlag string
	cmd := &cobra.Command{
		Use:   "criar",
		Short: "Create process",
		RunE: func(cmd *cobra.Command, args []string) error {
			unitIDs, err := parseUnitIDs(unitsFlag)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := e.CreateProcess(ctx, engine.ProcessCreateOptions{
					Description: desc,
					Type:        domain.ProcessType(tipo),
					DeadlineAt:  deadline,
					UnitIDs:     unitIDs,
					ActorID:     viper.GetString("usuario"),
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	cmd.Flags().StringVar(&desc, "description", "", "process description")
	cmd.Flags().StringVar(&tipo, "type", "", "MAPEAMENTO, REVISAO or DIAGNOSTICO")
	cmd.Flags().StringVar(&deadline, "deadline", "", "stage 1 deadline (RFC3339)")
	cmd.Flags().StringVar(&unitsFlag, "units", "", "comma-separated unit ids")
	_ = cmd.MarkFlagRequired("description")
	_ = cmd.MarkFlagRequired("type")
	_ = cmd.MarkFlagRequired("units")
	return cmd
}

func processoListarCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "listar",
		Short: "List processes",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListProcesses(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Description", "Type", "Situation", "Created"})
				for _, p := range items {
					tw.AppendRow(table.Row{p.ID, p.Description, p.Type, p.Situation, p.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func processoMostrarCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mostrar <id>",
		Short: "Show a process",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := e.Repo.GetProcess(ctx, id)
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
}

func processoIniciarCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "iniciar <id>",
		Short: "Start process and fan out subprocesses",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := e.StartProcess(ctx, id, viper.GetString("usuario"))
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
}

func processoFinalizarCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "finalizar <id>",
		Short: "Finalize process",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				res, err := e.FinalizeProcess(ctx, id, viper.GetString("usuario"))
				if err != nil {
					return err
				}
				if res.Kind == lifecycle.KindPendingSubprocesses {
					return fmt.Errorf("unidades pendentes: %s", strings.Join(res.PendingUnits, ", "))
				}
				if res.Kind != lifecycle.KindOK {
					return fmt.Errorf("finalização recusada: %s", res.Kind)
				}
				fmt.Printf("Processo %d finalizado\n", id)
				return nil
			})
		},
	}
}

func processoEventosCmd() *cobra.Command {
	var n int
	cmd := &cobra.Command{
		Use:   "eventos <id>",
		Short: "Show process audit trail",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				events, err := e.Repo.ListEvents(ctx, id, n)
				if err != nil {
					return err
				}
				return printJSONOrTable(events)
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 200, "number of events")
	return cmd
}

// --- subprocesso ---

func subprocessoCmd() *cobra.Command {
	sub := &cobra.Command{Use: "subprocesso", Short: "Manage subprocesses"}
	sub.AddCommand(subprocessoListarCmd())
	sub.AddCommand(subprocessoTransicaoCmd())
	sub.AddCommand(subprocessoDataLimiteCmd())
	sub.AddCommand(subprocessoMovimentacoesCmd())
	sub.AddCommand(subprocessoImpactoCmd())
	return sub
}

func subprocessoListarCmd() *cobra.Command {
	var processID int64
	cmd := &cobra.Command{
		Use:   "listar",
		Short: "List subprocesses of a process",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListSubprocesses(ctx, processID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Unit", "Situation", "Stage1 due", "Stage2 due"})
				for _, sp := range items {
					tw.AppendRow(table.Row{sp.ID, sp.UnitID, sp.Situation, deref(sp.Stage1Deadline), deref(sp.Stage2Deadline)})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().Int64Var(&processID, "processo", 0, "process id")
	_ = cmd.MarkFlagRequired("processo")
	return cmd
}

func subprocessoTransicaoCmd() *cobra.Command {
	var acao string
	cmd := &cobra.Command{
		Use:   "transicao <id>",
		Short: "Execute a workflow action",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				out, err := e.Transition(ctx, engine.TransitionOptions{
					SubprocessID: id,
					Action:       domain.Action(acao),
					ActorID:      viper.GetString("usuario"),
				})
				if err != nil {
					return err
				}
				switch out.Result.Kind {
				case lifecycle.KindOK:
					return printJSONOrTable(out.Subprocess)
				case lifecycle.KindDenied:
					return errors.New(out.Result.DeniedReason)
				case lifecycle.KindTerminalState:
					return fmt.Errorf("subprocesso %d já está na situação terminal", id)
				case lifecycle.KindInconsistentBaseline:
					return fmt.Errorf("unidade sem mapa homologado para revisar")
				default:
					return fmt.Errorf("ação '%s' inválida para a situação '%s'", acao, out.Subprocess.Situation)
				}
			})
		},
	}
	cmd.Flags().StringVar(&acao, "acao", "", "workflow action (e.g. disponibilizar_cadastro)")
	_ = cmd.MarkFlagRequired("acao")
	return cmd
}

func subprocessoDataLimiteCmd() *cobra.Command {
	var etapa int
	var data string
	cmd := &cobra.Command{
		Use:   "data-limite <id>",
		Short: "Change a stage deadline",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if err := e.ChangeSubprocessDeadline(ctx, id, etapa, data, viper.GetString("usuario")); err != nil {
					return err
				}
				sp, err := e.Repo.GetSubprocess(ctx, id)
				if err != nil {
					return err
				}
				return printJSONOrTable(sp)
			})
		},
	}
	cmd.Flags().IntVar(&etapa, "etapa", 1, "stage (1 or 2)")
	cmd.Flags().StringVar(&data, "data", "", "new deadline (RFC3339)")
	_ = cmd.MarkFlagRequired("data")
	return cmd
}

func subprocessoMovimentacoesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "movimentacoes <id>",
		Short: "Show movement history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListMovements(ctx, id)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"When", "From", "To", "Description"})
				for _, m := range items {
					tw.AppendRow(table.Row{m.CreatedAt, m.OriginUnit, m.DestUnit, m.Description})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func subprocessoImpactoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "impacto <id>",
		Short: "Compare draft map against the homologated baseline",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				report, err := e.ImpactReport(ctx, id)
				if err != nil {
					return err
				}
				return printJSONOrTable(report)
			})
		},
	}
}

// --- mapa ---

func mapaCmd() *cobra.Command {
	mp := &cobra.Command{Use: "mapa", Short: "Inspect competency maps"}
	mp.AddCommand(mapaMostrarCmd())
	return mp
}

func mapaMostrarCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mostrar <id>",
		Short: "Show map with activities and competencies",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				m, err := e.Repo.GetMap(ctx, id)
				if err != nil {
					return err
				}
				acts, err := e.Repo.ListActivities(ctx, id)
				if err != nil {
					return err
				}
				comps, err := e.Repo.ListCompetencies(ctx, id)
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]any{
					"map":          m,
					"activities":   acts,
					"competencies": comps,
				})
			})
		},
	}
}

// --- alerta ---

func alertaCmd() *cobra.Command {
	al := &cobra.Command{Use: "alerta", Short: "Manage alerts"}
	al.AddCommand(alertaListarCmd())
	al.AddCommand(alertaLerCmd())
	return al
}

func alertaListarCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "listar",
		Short: "List alerts for the acting user",
		RunE: func(cmd *cobra.Command, args []string) error {
			userID := viper.GetString("usuario")
			if userID == "" {
				return fmt.Errorf("--usuario required")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.ListAlerts(ctx, userID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "When", "Description", "Read"})
				for _, a := range items {
					read := ""
					if a.ReadAt != nil {
						read = *a.ReadAt
					}
					tw.AppendRow(table.Row{a.ID, a.CreatedAt, a.Description, read})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func alertaLerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ler <id>",
		Short: "Mark alert as read",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			userID := viper.GetString("usuario")
			if userID == "" {
				return fmt.Errorf("--usuario required")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.MarkAlertRead(ctx, args[0], userID)
			})
		},
	}
}

// --- painel ---

func painelCmd() *cobra.Command {
	var processID int64
	cmd := &cobra.Command{
		Use:   "painel",
		Short: "Dashboard counters",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				panel, err := e.PanelCounters(ctx, viper.GetString("usuario"), processID)
				if err != nil {
					return err
				}
				return printJSONOrTable(panel)
			})
		},
	}
	cmd.Flags().Int64Var(&processID, "processo", 0, "break down subprocess counts for this process")
	return cmd
}

// --- config ---

func configCmd() *cobra.Command {
	cfg := &cobra.Command{Use: "config", Short: "Manage sgc.yml"}
	cfg.AddCommand(configShowCmd())
	cfg.AddCommand(configInitCmd())
	cfg.AddCommand(configImportCmd())
	return cfg
}

func configShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show active config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := app.ResolveConfig(viper.GetString("workspace"), viper.GetString("project"))
			if err != nil {
				return err
			}
			return printJSONOrTable(cfg)
		},
	}
}

func configInitCmd() *cobra.Command {
	var id string
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write default sgc.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault(id)), 0o644); err != nil {
				return err
			}
			fmt.Printf("Wrote %s\n", path)
			return nil
		},
	}
	cmd.Flags().StringVar(&id, "id", "sgc", "project id")
	return cmd
}

func configImportCmd() *cobra.Command {
	var filePath string
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Validate and install a config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.FromFile(filePath)
			if err != nil {
				return err
			}
			data, err := os.ReadFile(filePath)
			if err != nil {
				return err
			}
			path := config.Path(viper.GetString("workspace"))
			if err := os.WriteFile(path, data, 0o644); err != nil {
				return err
			}
			fmt.Printf("Installed config for project %s at %s\n", cfg.Project.ID, path)
			return nil
		},
	}
	cmd.Flags().StringVar(&filePath, "file", "", "config YAML file")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

// --- serve ---

func serveCmd() *cobra.Command {
	var addr, basePath string
	var allowUserHeader bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			cfg, err := app.ResolveConfig(workspace, viper.GetString("project"))
			if err != nil {
				return err
			}
			e := engine.New(conn, cfg)
			authCfg := server.AuthConfig{
				JWTSecret:       os.Getenv("SGC_JWT_SECRET"),
				AllowUserHeader: allowUserHeader,
			}
			if authCfg.JWTSecret == "" && !allowUserHeader {
				return fmt.Errorf("SGC_JWT_SECRET is required for bearer auth (or pass --allow-user-header for local use)")
			}
			handler, err := server.New(server.Config{Engine: e, BasePath: basePath, Auth: authCfg})
			if err != nil {
				return err
			}
			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			fmt.Printf("Serving SGC API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs)\n", addr, basePath, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v1", "API base path")
	cmd.Flags().BoolVar(&allowUserHeader, "allow-user-header", false, "trust the X-Usuario header (local use only)")
	return cmd
}

// --- helpers ---

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	cfg, err := app.ResolveConfig(workspace, viper.GetString("project"))
	if err != nil {
		return err
	}
	e := engine.New(conn, cfg)
	return fn(ctx, e)
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid id %q", s)
	}
	return id, nil
}

func parseUnitIDs(s string) ([]int64, error) {
	var out []int64
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid unit id %q", part)
		}
		out = append(out, id)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("--units requires at least one unit id")
	}
	return out, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
