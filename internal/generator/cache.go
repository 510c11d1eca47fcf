package generator

import "sync"

// schemaCache maps reflect.Type to *stageSchema.
var schemaCache sync.Map
