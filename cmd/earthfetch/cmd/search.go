package cmd

import (
	"fmt"
	"os"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/psantana5/earthfetch/pkg/models"
	"github.com/psantana5/earthfetch/pkg/orders"
)

// criteriaFlags are the dataset filters shared by search and submit commands
type criteriaFlags struct {
	shortName string
	version   string
	provider  string
	bbox      string
	temporal  string
}

func (c *criteriaFlags) register(fs *pflag.FlagSet) {
	fs.StringVar(&c.shortName, "short-name", "", "dataset short name (e.g. ATL07)")
	fs.StringVar(&c.version, "version", "", "dataset version (e.g. 003)")
	fs.StringVar(&c.provider, "provider", "", "CMR provider")
	fs.StringVar(&c.bbox, "bbox", "", "bounding box W,S,E,N in decimal degrees")
	fs.StringVar(&c.temporal, "temporal", "", "time range start,end (e.g. 2019-06-22T00:00:00Z,2019-06-22T23:59:59Z)")
}

func (c *criteriaFlags) criteria() (models.SearchCriteria, error) {
	box, err := models.ParseBoundingBox(c.bbox)
	if err != nil {
		return models.SearchCriteria{}, orders.NewInvalidCriteria(&models.FieldError{Field: "bounding_box", Reason: err.Error()})
	}
	tr, err := models.ParseTemporalRange(c.temporal)
	if err != nil {
		return models.SearchCriteria{}, orders.NewInvalidCriteria(&models.FieldError{Field: "temporal", Reason: err.Error()})
	}
	criteria := models.SearchCriteria{
		ShortName:   c.shortName,
		Version:     c.version,
		Provider:    c.provider,
		BoundingBox: box,
		Temporal:    tr,
	}
	if err := criteria.Validate(); err != nil {
		return criteria, orders.NewInvalidCriteria(err)
	}
	return criteria, nil
}

var (
	granuleFlags criteriaFlags
	serviceFlags criteriaFlags
)

// granulesCmd searches CMR for granules
var granulesCmd = &cobra.Command{
	Use:   "granules",
	Short: "Search CMR for matching granules",
	Long:  `Count the granules matching a dataset, bounding box and time range and report their total size.`,
	RunE:  runGranules,
}

// servicesCmd lists subsetting services of a collection
var servicesCmd = &cobra.Command{
	Use:   "services",
	Short: "List the services associated with a collection",
	RunE:  runServices,
}

func init() {
	rootCmd.AddCommand(granulesCmd)
	rootCmd.AddCommand(servicesCmd)

	granuleFlags.register(granulesCmd.Flags())
	granulesCmd.MarkFlagRequired("short-name")
	granulesCmd.MarkFlagRequired("version")
	granulesCmd.MarkFlagRequired("bbox")
	granulesCmd.MarkFlagRequired("temporal")

	servicesCmd.Flags().StringVar(&serviceFlags.shortName, "short-name", "", "dataset short name")
	servicesCmd.Flags().StringVar(&serviceFlags.version, "version", "", "dataset version")
	servicesCmd.Flags().StringVar(&serviceFlags.provider, "provider", "", "CMR provider")
	servicesCmd.MarkFlagRequired("short-name")
}

func runGranules(cmd *cobra.Command, args []string) error {
	criteria, err := granuleFlags.criteria()
	if err != nil {
		return err
	}
	result, err := app.cmr().SearchGranules(cmd.Context(), criteria)
	if err != nil {
		return err
	}
	return render(result, func() {
		table := tablewriter.NewWriter(os.Stdout)
		table.Header("Granule", "Start", "End", "Size (MB)")
		for _, g := range result.Granules {
			table.Append(g.Title, g.TimeStart, g.TimeEnd, fmt.Sprintf("%.2f", g.SizeMB))
		}
		table.Render()
		fmt.Printf("\n%d granules, %.2f MB total\n", result.Hits, result.TotalSizeMB)
	})
}

func runServices(cmd *cobra.Command, args []string) error {
	services, err := app.cmr().SearchServices(cmd.Context(), serviceFlags.shortName, serviceFlags.version, serviceFlags.provider)
	if err != nil {
		return err
	}
	return render(services, func() {
		if len(services) == 0 {
			fmt.Println("No services found")
			return
		}
		table := tablewriter.NewWriter(os.Stdout)
		table.Header("Concept ID", "Name", "Type", "URL")
		for _, s := range services {
			table.Append(s.ConceptID, s.Name, s.Type, s.URL)
		}
		table.Render()
	})
}
