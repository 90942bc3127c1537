package config

const (
	defaultLabelStudioURL      = "http://localhost:8080"
	defaultProjectTitle        = "YOLO Detection Project"
	defaultRequestTimeout      = 30
	defaultImageURLPrefix      = "/data/local-files/?d=images/"
	defaultUploadBatchSize     = 100
	defaultFromName            = "label"
	defaultToName              = "image"
	defaultExportPollInterval  = 1
	defaultExportTimeout       = 600
	defaultImageDir            = "data/images"
	defaultExportDir           = "data/export"
	defaultPredictionsDir      = "data/predictions"
	defaultBaseModelPath       = "models/base_model.pt"
	defaultUpdatedModelPath    = "models/updated_model.pt"
	defaultRunsDir             = "runs"
	defaultStateDir            = "~/.local/share/labelloop"
	defaultYOLOBinary          = "yolo"
	defaultEpochs              = 30
	defaultImageSize           = 640
	defaultModelScoreThreshold = 0.25
	defaultTrainSplit          = 0.8
	defaultFallbackModel       = "yolo11n.pt"
	defaultModelVersion        = "yolo"
	defaultTrainTimeout        = 6 * 60 * 60
	defaultPredictTimeout      = 30 * 60
	defaultConvertWorkers      = 4
	defaultServerBinary        = "label-studio"
	defaultServerUsername      = "admin@example.com"
	defaultServerPassword      = "admin"
	defaultServerDataDir       = "label_studio_data"
	defaultServerDocumentRoot  = "data"
	defaultLocalFilesServing   = true
	defaultLogFormat           = "console"
	defaultLogLevel            = "info"

	placeholderAPIKey = "your_label_studio_api_key_here"
)

// Policy and convention values accepted by the reconcile and convert sections.
const (
	DuplicatePolicySkip  = "skip"
	DuplicatePolicyForce = "force"

	ConventionCenterSize = "center-size"
	ConventionCorner     = "corner"

	UnknownClassSkipAndWarn = "skip-and-warn"
	UnknownClassAbortBatch  = "abort-batch"
)

var defaultLabelNames = []string{"Person", "Car", "Bicycle", "Motorcycle"}

// Default returns a Config populated with repository defaults. The Label
// Studio URL and image directory are filled in during normalization so the
// LABEL_STUDIO_URL and IMAGE_DIR environment variables can supply them.
func Default() Config {
	return Config{
		LabelStudio: LabelStudio{
			ProjectTitle:       defaultProjectTitle,
			RequestTimeout:     defaultRequestTimeout,
			ImageURLPrefix:     defaultImageURLPrefix,
			UploadBatchSize:    defaultUploadBatchSize,
			FromName:           defaultFromName,
			ToName:             defaultToName,
			ExportPollInterval: defaultExportPollInterval,
			ExportTimeout:      defaultExportTimeout,
		},
		Paths: Paths{
			ExportDir:        defaultExportDir,
			PredictionsDir:   defaultPredictionsDir,
			BaseModelPath:    defaultBaseModelPath,
			UpdatedModelPath: defaultUpdatedModelPath,
			RunsDir:          defaultRunsDir,
			StateDir:         defaultStateDir,
		},
		YOLO: YOLO{
			Binary:              defaultYOLOBinary,
			Epochs:              defaultEpochs,
			ImageSize:           defaultImageSize,
			ModelScoreThreshold: defaultModelScoreThreshold,
			TrainSplit:          defaultTrainSplit,
			FallbackModel:       defaultFallbackModel,
			ModelVersion:        defaultModelVersion,
			TrainTimeout:        defaultTrainTimeout,
			PredictTimeout:      defaultPredictTimeout,
		},
		Labels: Labels{
			Names: append([]string(nil), defaultLabelNames...),
		},
		Reconcile: Reconcile{
			DuplicatePolicy: DuplicatePolicySkip,
		},
		Convert: Convert{
			CoordinateConvention: ConventionCenterSize,
			UnknownClassPolicy:   UnknownClassSkipAndWarn,
			Workers:              defaultConvertWorkers,
		},
		Server: Server{
			Binary:            defaultServerBinary,
			Username:          defaultServerUsername,
			Password:          defaultServerPassword,
			DataDir:           defaultServerDataDir,
			DocumentRoot:      defaultServerDocumentRoot,
			LocalFilesServing: defaultLocalFilesServing,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
