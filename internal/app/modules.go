package app

import (
	"github.com/vk/filtergrid/internal/registry"
	"github.com/vk/filtergrid/modules/env_vars"
	"github.com/vk/filtergrid/modules/fail"
	"github.com/vk/filtergrid/modules/http_request"
	"github.com/vk/filtergrid/modules/print"
	"github.com/vk/filtergrid/modules/s3"
	"github.com/vk/filtergrid/modules/sleep"
)

// coreModules is the list of runner modules compiled into the binary.
var coreModules = []registry.Module{
	&print.Module{},
	&sleep.Module{},
	&fail.Module{},
	&http_request.Module{},
	&s3.Module{},
	&env_vars.Module{},
}
