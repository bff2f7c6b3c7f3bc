package dicomweb

import (
	"context"
	"fmt"
	"net/http"

	healthcare "google.golang.org/api/healthcare/v1"
	"google.golang.org/api/option"
)

// Resource is a listed Healthcare API resource.
type Resource struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Browser lists the locations, datasets, and DICOM stores visible to the credentials.
type Browser struct {
	svc *healthcare.Service
}

// NewBrowser returns a Browser using the given authorized HTTP client.  An empty
// endpoint uses the public Healthcare API.
func NewBrowser(ctx context.Context, client *http.Client, endpoint string) (*Browser, error) {
	opts := []option.ClientOption{option.WithHTTPClient(client)}
	if endpoint != "" {
		opts = append(opts, option.WithEndpoint(endpoint))
	}
	svc, err := healthcare.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("cannot create healthcare service: %v", err)
	}
	return &Browser{svc: svc}, nil
}

// Locations lists the locations of a project given its resource name.
func (b *Browser) Locations(ctx context.Context, project string) ([]Resource, error) {
	var resources []Resource
	call := b.svc.Projects.Locations.List(project)
	err := call.Pages(ctx, func(resp *healthcare.ListLocationsResponse) error {
		for _, loc := range resp.Locations {
			resources = append(resources, Resource{ID: loc.LocationId, Name: loc.Name})
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("error listing locations of %s: %w", project, err)
	}
	return resources, nil
}

// Datasets lists the datasets of a location given its resource name.
func (b *Browser) Datasets(ctx context.Context, location string) ([]Resource, error) {
	var resources []Resource
	call := b.svc.Projects.Locations.Datasets.List(location)
	err := call.Pages(ctx, func(resp *healthcare.ListDatasetsResponse) error {
		for _, ds := range resp.Datasets {
			resources = append(resources, Resource{ID: ResourceID(ds.Name), Name: ds.Name})
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("error listing datasets of %s: %w", location, err)
	}
	return resources, nil
}

// DicomStores lists the DICOM stores of a dataset given its resource name.
func (b *Browser) DicomStores(ctx context.Context, dataset string) ([]Resource, error) {
	var resources []Resource
	call := b.svc.Projects.Locations.Datasets.DicomStores.List(dataset)
	err := call.Pages(ctx, func(resp *healthcare.ListDicomStoresResponse) error {
		for _, store := range resp.DicomStores {
			resources = append(resources, Resource{ID: ResourceID(store.Name), Name: store.Name})
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("error listing DICOM stores of %s: %w", dataset, err)
	}
	return resources, nil
}
