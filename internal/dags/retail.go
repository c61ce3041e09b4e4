package dags

import (
	"fmt"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/v2"
	"github.com/leapstack-labs/leapflow/internal/operators"
	"github.com/leapstack-labs/leapflow/internal/pipeline"
	"github.com/leapstack-labs/leapflow/pkg/core"
)

// RetailID is the id of the retail pipeline.
const RetailID = "retail"

// Retail task and group ids.
const (
	TaskUpload         = "upload_csv_to_gcs"
	TaskCreateDataset  = "create_retail_dataset"
	TaskLoad           = "gcs_to_raw"
	TaskCheckLoad      = "check_load"
	GroupTransform     = "transform"
	TaskCheckTransform = "check_transform"
	GroupReport        = "report"
	TaskCheckReport    = "check_report"
)

// RetailConfig is the dags.retail section of leapflow.yaml.
type RetailConfig struct {
	Description string    `koanf:"description"`
	Tags        []string  `koanf:"tags"`
	StartDate   time.Time `koanf:"start_date"`

	Retries    int           `koanf:"retries"`
	RetryDelay time.Duration `koanf:"retry_delay"`

	Upload  UploadConfig  `koanf:"upload"`
	Dataset DatasetConfig `koanf:"dataset"`
	Load    LoadConfig    `koanf:"load"`

	Project   core.ProjectConfig `koanf:"project"`
	Profile   core.ProfileConfig `koanf:"profile"`
	Transform core.RenderConfig  `koanf:"transform"`
	Report    core.RenderConfig  `koanf:"report"`

	Checks ChecksConfig `koanf:"checks"`
}

// UploadConfig configures the upload step.
type UploadConfig struct {
	Src      string `koanf:"src"`
	Dst      string `koanf:"dst"`
	Bucket   string `koanf:"bucket"`
	ConnID   string `koanf:"conn_id"`
	MimeType string `koanf:"mime_type"`
}

// DatasetConfig configures schema provisioning.
type DatasetConfig struct {
	ID       string `koanf:"id"`
	ConnID   string `koanf:"conn_id"`
	ExistsOK bool   `koanf:"exists_ok"`
}

// LoadConfig configures the raw load.
type LoadConfig struct {
	Path             string `koanf:"path"`
	ConnID           string `koanf:"conn_id"`
	FileType         string `koanf:"filetype"`
	Table            string `koanf:"table"`
	Schema           string `koanf:"schema"`
	UseNativeSupport bool   `koanf:"use_native_support"`
}

// ChecksConfig configures the three quality gates.
type ChecksConfig struct {
	Root          string `koanf:"root"`
	Configuration string `koanf:"configuration"`
	DataSource    string `koanf:"data_source"`
	// Runtime overrides the project-wide runtime for these gates.
	Runtime core.RuntimeConfig `koanf:"runtime"`

	Sources   string `koanf:"sources"`
	Transform string `koanf:"transform"`
	Report    string `koanf:"report"`
}

// retailDefaults mirrors the fixed references of the retail pipeline.
func retailDefaults() map[string]any {
	return map[string]any{
		"description": "Online retail: upload, load, transform and report with quality gates",
		"tags":        []string{"retail"},
		"start_date":  "2023-01-01T00:00:00Z",
		"retries":     0,
		"retry_delay": pipeline.DefaultRetryDelay.String(),

		"upload.src":       "include/dataset/online_Retail.csv",
		"upload.dst":       "raw/online_Retail.csv",
		"upload.bucket":    "datapineline_storage",
		"upload.conn_id":   "gcp",
		"upload.mime_type": "text/csv",

		"dataset.id":        "retail",
		"dataset.conn_id":   "gcp",
		"dataset.exists_ok": true,

		"load.path":               "gs://datapineline_storage/raw/online_Retail.csv",
		"load.conn_id":            "gcp",
		"load.filetype":           string(core.FileTypeCSV),
		"load.table":              "raw_invoices",
		"load.schema":             "retail",
		"load.use_native_support": false,

		"project.dir":           "include/dbt",
		"profile.profile":       "retail",
		"profile.target":        "dev",
		"profile.profiles_path": "include/dbt/profiles.yml",
		"transform.select":      []string{"path:models/transform"},
		"transform.load_mode":   string(core.LoadModeDiscover),
		"report.select":         []string{"path:models/report"},
		"report.load_mode":      string(core.LoadModeDiscover),

		"checks.root":          "include/soda/checks",
		"checks.configuration": "include/soda/configuration.yml",
		"checks.sources":       "sources",
		"checks.transform":     "transform",
		"checks.report":        "report",
	}
}

// DecodeRetailConfig merges overrides onto the retail defaults. Unknown
// keys are rejected.
func DecodeRetailConfig(overrides map[string]any) (*RetailConfig, error) {
	k := koanf.New(".")
	if err := k.Load(confmap.Provider(retailDefaults(), "."), nil); err != nil {
		return nil, err
	}
	if len(overrides) > 0 {
		if err := k.Load(confmap.Provider(overrides, "."), nil); err != nil {
			return nil, err
		}
	}

	var cfg RetailConfig
	err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{
		DecoderConfig: &mapstructure.DecoderConfig{
			DecodeHook: mapstructure.ComposeDecodeHookFunc(
				mapstructure.StringToTimeDurationHookFunc(),
				mapstructure.StringToTimeHookFunc(time.RFC3339),
				mapstructure.StringToSliceHookFunc(","),
			),
			ErrorUnused:      true,
			WeaklyTypedInput: true,
			TagName:          "koanf",
			Result:           &cfg,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("dags.%s: %w", RetailID, err)
	}
	return &cfg, nil
}

// gateRuntime picks the gate runtime: the dag's own, else the project's.
func (c *RetailConfig) gateRuntime(project core.RuntimeConfig) core.RuntimeConfig {
	if c.Checks.Runtime.Type != "" || c.Checks.Runtime.Executable != "" {
		rt := c.Checks.Runtime
		if len(rt.Env) == 0 {
			rt.Env = project.Env
		}
		return rt
	}
	return project
}

func (c *RetailConfig) gate(id, subpath string, rt core.RuntimeConfig) *operators.QualityGateTask {
	return &operators.QualityGateTask{
		TaskID: id,
		Scan: core.ScanSpec{
			ScanName:      id,
			ChecksSubpath: subpath,
			ChecksRoot:    c.Checks.Root,
			Configuration: c.Checks.Configuration,
			DataSource:    c.Checks.DataSource,
			Runtime:       rt,
		},
	}
}

func (c *RetailConfig) models(id string, render core.RenderConfig) *operators.ModelGroup {
	return &operators.ModelGroup{GroupID: id, Project: c.Project, Profile: c.Profile, Render: render}
}

// RetailModelGroups returns the transform and report groups.
func RetailModelGroups(overrides map[string]any) ([]*operators.ModelGroup, error) {
	cfg, err := DecodeRetailConfig(overrides)
	if err != nil {
		return nil, err
	}
	return []*operators.ModelGroup{
		cfg.models(GroupTransform, cfg.Transform),
		cfg.models(GroupReport, cfg.Report),
	}, nil
}

// RetailSources returns the inputs a run reads: the dataset file, the
// transformation project and the checks.
func RetailSources(overrides map[string]any) ([]string, error) {
	cfg, err := DecodeRetailConfig(overrides)
	if err != nil {
		return nil, err
	}
	return []string{cfg.Upload.Src, cfg.Project.Dir, cfg.Checks.Root}, nil
}

// BuildRetail builds the retail pipeline:
//
//	upload -> dataset -> load -> check_load -> transform -> check_transform -> report -> check_report
func BuildRetail(opts Options) (*pipeline.Pipeline, error) {
	cfg, err := DecodeRetailConfig(opts.Overrides)
	if err != nil {
		return nil, err
	}
	r := opts.Resources
	if r == nil {
		r = &pipeline.Resources{}
	}

	p := pipeline.New(RetailID)
	p.Description = cfg.Description
	p.Tags = cfg.Tags
	p.StartDate = cfg.StartDate
	p.Retries = cfg.Retries
	if cfg.RetryDelay > 0 {
		p.RetryDelay = cfg.RetryDelay
	}

	existsOK := cfg.Dataset.ExistsOK
	upload := &operators.LocalToObjectStoreTask{
		TaskID:   TaskUpload,
		Src:      cfg.Upload.Src,
		Dst:      cfg.Upload.Dst,
		Bucket:   cfg.Upload.Bucket,
		ConnID:   cfg.Upload.ConnID,
		MimeType: cfg.Upload.MimeType,
	}
	dataset := &operators.CreateEmptyDatasetTask{
		TaskID:    TaskCreateDataset,
		DatasetID: cfg.Dataset.ID,
		ConnID:    cfg.Dataset.ConnID,
		ExistsOK:  &existsOK,
	}
	load := &operators.LoadFileTask{
		TaskID: TaskLoad,
		Input: core.FileRef{
			Path:     cfg.Load.Path,
			ConnID:   cfg.Load.ConnID,
			FileType: core.FileType(cfg.Load.FileType),
		},
		Output: core.TableRef{
			Name:   cfg.Load.Table,
			ConnID: cfg.Load.ConnID,
			Schema: cfg.Load.Schema,
		},
		UseNativeSupport: cfg.Load.UseNativeSupport,
	}

	rt := cfg.gateRuntime(opts.Runtime)
	transform, err := cfg.models(GroupTransform, cfg.Transform).Build(r)
	if err != nil {
		return nil, err
	}
	report, err := cfg.models(GroupReport, cfg.Report).Build(r)
	if err != nil {
		return nil, err
	}

	err = p.Chain(
		upload,
		dataset,
		load,
		cfg.gate(TaskCheckLoad, cfg.Checks.Sources, rt),
		transform,
		cfg.gate(TaskCheckTransform, cfg.Checks.Transform, rt),
		report,
		cfg.gate(TaskCheckReport, cfg.Checks.Report, rt),
	)
	if err != nil {
		return nil, err
	}
	return p, nil
}

func init() {
	Register(Definition{
		ID:          RetailID,
		Description: "Online retail: upload, load, transform and report with quality gates",
		Stages: []string{
			TaskUpload, TaskCreateDataset, TaskLoad, TaskCheckLoad,
			GroupTransform, TaskCheckTransform, GroupReport, TaskCheckReport,
		},
		Build:       BuildRetail,
		ModelGroups: RetailModelGroups,
		Sources:     RetailSources,
	})
}
