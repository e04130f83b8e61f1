// Copyright 2016-present Oliver Eilhard. All rights reserved.
// Use of this source code is governed by a MIT-license.
// See http://olivere.mit-license.org/license.txt for details.

package jobloop

import "context"

// Processor is the job body. It runs on a pool worker and may block for
// as long as it needs to.
type Processor func(ctx context.Context, id JobID) error
