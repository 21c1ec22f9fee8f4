package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/roach88/aplbridge/internal/config"
	"github.com/roach88/aplbridge/internal/core/memcore"
	"github.com/roach88/aplbridge/internal/metrics"
)

// ValidateOptions holds flags for the validate command.
type ValidateOptions struct {
	*RootOptions
	Viewports string
	Width     float64
	Height    float64
	DPI       float64
	Mode      string
	Shape     string
}

// ValidationError is one problem found in the inputs.
type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Line    int    `json:"line,omitempty"`
}

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid      bool              `json:"valid"`
	APLVersion string            `json:"apl_version,omitempty"`
	Parameters []string          `json:"parameters,omitempty"`
	Imports    []string          `json:"imports,omitempty"`
	Extensions []string          `json:"extensions,omitempty"`
	Viewports  []string          `json:"viewports,omitempty"`
	Scaling    *ScalingReport    `json:"scaling,omitempty"`
	Errors     []ValidationError `json:"errors,omitempty"`
}

// ScalingReport is the viewport the engine picks for the given surface.
type ScalingReport struct {
	Spec        string  `json:"spec"`
	ScaleFactor float64 `json:"scale_factor"`
	Width       float64 `json:"width"`
	Height      float64 `json:"height"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ValidateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "validate <document.json>",
		Short: "Check an APL document and its supported viewports",
		Long: `Check that a document can be turned into content and report what it
needs before it can inflate: parameters, package imports and extensions.

With --viewports, the supportedViewports payload is checked against the
viewport schema. Adding --width and --height reports the viewport the
engine would choose for that surface.

Examples:
  aplbridge validate home.json
  aplbridge validate home.json --viewports viewports.json
  aplbridge validate home.json --viewports viewports.json --width 1280 --height 800 --dpi 160`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Viewports, "viewports", "", "supportedViewports JSON file")
	cmd.Flags().Float64Var(&opts.Width, "width", 0, "surface width in pixels")
	cmd.Flags().Float64Var(&opts.Height, "height", 0, "surface height in pixels")
	cmd.Flags().Float64Var(&opts.DPI, "dpi", metrics.CoreDPI, "surface density")
	cmd.Flags().StringVar(&opts.Mode, "mode", string(metrics.ModeHub), "viewport mode (auto|hub|mobile|pc|tv)")
	cmd.Flags().StringVar(&opts.Shape, "shape", string(metrics.ShapeRectangle), "screen shape (rectangle|round)")

	return cmd
}

func runValidate(opts *ValidateOptions, documentFile string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd.OutOrStdout(), cmd.ErrOrStderr())

	document, err := os.ReadFile(documentFile)
	if err != nil {
		return outputValidateError(formatter, ErrCodeGeneric, fmt.Sprintf("failed to read document: %v", err), nil)
	}

	result := ValidationResult{}
	engine := memcore.New()

	content, err := engine.CreateContent(string(document))
	if err != nil {
		result.Errors = append(result.Errors, ValidationError{
			Field:   "document",
			Code:    ErrCodeDocument,
			Message: err.Error(),
		})
	} else {
		result.APLVersion = content.APLVersion()
		result.Parameters = content.Parameters()
		for _, req := range content.RequestedPackages() {
			result.Imports = append(result.Imports, req.Name+"@"+req.Version)
		}
		result.Extensions = content.ExtensionURIs()
		formatter.VerboseLog("Document %s: APL %s, %d parameter(s), %d import(s)",
			documentFile, result.APLVersion, len(result.Parameters), len(result.Imports))
	}

	if opts.Viewports != "" {
		specs, errs := validateViewports(opts, formatter)
		result.Errors = append(result.Errors, errs...)
		for _, s := range specs {
			result.Viewports = append(result.Viewports, s.String())
		}

		if len(errs) == 0 && opts.Width > 0 && opts.Height > 0 {
			report, verr := chooseScaling(opts, engine, specs)
			if verr != nil {
				result.Errors = append(result.Errors, *verr)
			}
			result.Scaling = report
		}
	}

	if len(result.Errors) > 0 {
		return outputValidationErrors(formatter, result)
	}
	result.Valid = true
	return outputValidateSuccess(formatter, result)
}

// validateViewports reads and checks the supportedViewports file.
func validateViewports(opts *ValidateOptions, formatter *OutputFormatter) ([]metrics.ViewportSpec, []ValidationError) {
	raw, err := os.ReadFile(opts.Viewports)
	if err != nil {
		return nil, []ValidationError{{
			Field:   "viewports",
			Code:    ErrCodeGeneric,
			Message: fmt.Sprintf("failed to read viewports: %v", err),
		}}
	}

	specs, err := metrics.ParseViewportSpecs(raw)
	if err == nil {
		formatter.VerboseLog("Found %d viewport specification(s) in %s", len(specs), opts.Viewports)
		return specs, nil
	}

	var schemaErr *metrics.SchemaError
	if !errors.As(err, &schemaErr) {
		return nil, []ValidationError{{Field: "viewports", Code: ErrCodeViewports, Message: err.Error()}}
	}

	issues := schemaErr.Issues()
	if len(issues) == 0 {
		return nil, []ValidationError{{Field: "viewports", Code: ErrCodeViewports, Message: err.Error()}}
	}
	errs := make([]ValidationError, 0, len(issues))
	for _, issue := range issues {
		errs = append(errs, ValidationError{
			Field:   "viewports",
			Code:    ErrCodeViewports,
			Message: issue.Message,
			Line:    issue.Line,
		})
	}
	return nil, errs
}

// chooseScaling runs the engine's viewport selection with the configured
// bias.
func chooseScaling(opts *ValidateOptions, engine *memcore.Engine, specs []metrics.ViewportSpec) (*ScalingReport, *ValidationError) {
	cfg, err := config.Load(viper.New(), opts.ConfigFile)
	if err != nil {
		return nil, &ValidationError{Field: "config", Code: ErrCodeGeneric, Message: err.Error()}
	}

	surface := metrics.Metrics{
		Width:  opts.Width,
		Height: opts.Height,
		DPI:    opts.DPI,
		Shape:  metrics.ScreenShape(strings.ToLower(opts.Shape)),
		Mode:   metrics.ViewportMode(strings.ToLower(opts.Mode)),
	}
	scaling, ok := engine.ChooseScaling(surface, metrics.ScalingOptions{
		Specs:              specs,
		BiasConstant:       cfg.BiasConstant,
		ShapeOverridesCost: cfg.ShapeOverridesCost,
	})
	if !ok {
		return nil, &ValidationError{
			Field:   "viewports",
			Code:    ErrCodeScaling,
			Message: fmt.Sprintf("no viewport specification fits %gx%g at %g dpi", opts.Width, opts.Height, opts.DPI),
		}
	}
	return &ScalingReport{
		Spec:        scaling.Spec.String(),
		ScaleFactor: scaling.ScaleFactor,
		Width:       scaling.CoreWidth,
		Height:      scaling.CoreHeight,
	}, nil
}

// outputValidateSuccess outputs successful validation results.
func outputValidateSuccess(formatter *OutputFormatter, result ValidationResult) error {
	if formatter.Format == "json" {
		return formatter.Success(result)
	}

	w := formatter.Writer
	fmt.Fprintln(w, "✓ Document valid")
	fmt.Fprintf(w, "  APL version: %s\n", result.APLVersion)
	if len(result.Parameters) > 0 {
		fmt.Fprintf(w, "  Parameters:  %s\n", strings.Join(result.Parameters, ", "))
	}
	if len(result.Imports) > 0 {
		fmt.Fprintf(w, "  Imports:     %s\n", strings.Join(result.Imports, ", "))
	}
	if len(result.Extensions) > 0 {
		fmt.Fprintf(w, "  Extensions:  %s\n", strings.Join(result.Extensions, ", "))
	}
	for _, v := range result.Viewports {
		fmt.Fprintf(w, "  Viewport:    %s\n", v)
	}
	if result.Scaling != nil {
		fmt.Fprintf(w, "  Chosen:      %s scale=%g (%gx%g dp)\n",
			result.Scaling.Spec, result.Scaling.ScaleFactor, result.Scaling.Width, result.Scaling.Height)
	}
	return nil
}

// outputValidateError outputs a single command-level error.
func outputValidateError(formatter *OutputFormatter, code, message string, details any) error {
	_ = formatter.Error(code, message, details)
	return &ExitError{Code: ExitCommandError, ErrCode: code, Message: fmt.Sprintf("%s: %s", code, message)}
}

// outputValidationErrors outputs every validation error.
func outputValidationErrors(formatter *OutputFormatter, result ValidationResult) error {
	errs := result.Errors
	if formatter.Format == "json" {
		response := CLIResponse{
			Status: "error",
			Data:   result,
			Error: &CLIError{
				Code:    errs[0].Code,
				Message: errs[0].Message,
			},
		}

		encoder := json.NewEncoder(formatter.Writer)
		encoder.SetIndent("", "  ")
		if err := encoder.Encode(response); err != nil {
			return err
		}
		return NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(errs)))
	}

	fmt.Fprintln(formatter.Writer, "✗ Validation failed")
	fmt.Fprintln(formatter.Writer)

	for _, err := range errs {
		if err.Line > 0 {
			fmt.Fprintf(formatter.Writer, "%s line %d\n", err.Field, err.Line)
		}
		fmt.Fprintf(formatter.Writer, "  %s: %s\n\n", err.Code, err.Message)
	}

	return NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(errs)))
}
