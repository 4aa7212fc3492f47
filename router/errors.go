package router

import "errors"

var errEmptyRouteLeg = errors.New("router: a MultiRoute leg must name at least one hop")
