package operation

import (
	"context"
	"errors"

	"go.mongodb.org/mongo-driver/v2/x/bsonx/bsoncore"

	"github.com/shardwire/mongocore/description"
	"github.com/shardwire/mongocore/driver"
	"github.com/shardwire/mongocore/session"
	"github.com/shardwire/mongocore/writeconcern"
)

// Create performs the create command, used both for plain collection
// creation and for the encryptedFields auxiliary-collection sequencing
// SPEC_FULL.md's create-collection supplement adds: a queryable
// encryption collection needs its state ("esc") and metadata ("ecoc")
// companions created first, exactly as the real driver's
// mongo.Database.CreateCollection does before issuing the caller's own
// create.
type Create struct {
	capped          *bool
	sizeInBytes     *int64
	autoIndexID     *bool
	maxDocuments    *int64
	validator       bsoncore.Document
	validationLevel string
	validationAction string
	collation       bsoncore.Document
	changeStreamPreAndPostImages bsoncore.Document
	encryptedFields bsoncore.Document
	clusteredIndex  bsoncore.Document
	timeseries      bsoncore.Document
	expireAfterSeconds *int64
	viewOn          string
	pipeline        bsoncore.Array

	session      *session.Client
	clock        *session.ClusterClock
	opCtx        *driver.OperationContext
	database     string
	collection   string
	deployment   driver.Deployment
	binding      driver.Binding
	writeConcern *writeconcern.WriteConcern
	selector     description.ServerSelector
}

// NewCreate constructs and returns a new Create.
func NewCreate(collection string) *Create { return &Create{collection: collection} }

// Execute runs this operation, first creating the encryptedFields
// auxiliary collections (if set) and then the collection itself.
func (c *Create) Execute(ctx context.Context) error {
	if c.deployment == nil && c.binding == nil {
		return errors.New("the Create operation must have a Deployment or Binding set before Execute can be called")
	}

	if c.encryptedFields != nil {
		if err := c.createEncryptedFieldsCompanions(ctx); err != nil {
			return err
		}
	}

	return driver.Operation{
		CommandName:  "create",
		CommandFn:    c.command,
		Kind:         driver.Write,
		Client:       c.session,
		Clock:        c.clock,
		Database:     c.database,
		Deployment:   c.deployment,
		Binding:      c.binding,
		WriteConcern: c.writeConcern,
		Selector:     c.selector,
	}.Execute(ctx, c.opCtx)
}

// createEncryptedFieldsCompanions creates the "enxcol_.<coll>.esc" state
// collection and the "enxcol_.<coll>.ecoc" compaction-coordination
// collection that must exist before a queryable-encryption collection is
// created, per SPEC_FULL.md.
func (c *Create) createEncryptedFieldsCompanions(ctx context.Context) error {
	for _, suffix := range []string{"esc", "ecoc"} {
		companion := "enxcol_." + c.collection + "." + suffix
		op := driver.Operation{
			CommandName: "create",
			CommandFn: func(dst []byte, desc description.SelectedServer) ([]byte, error) {
				return bsoncore.AppendStringElement(dst, "create", companion), nil
			},
			Kind:         driver.Write,
			Client:       c.session,
			Clock:        c.clock,
			Database:     c.database,
			Deployment:   c.deployment,
			Binding:      c.binding,
			WriteConcern: c.writeConcern,
			Selector:     c.selector,
		}
		if err := op.Execute(ctx, c.opCtx); err != nil {
			return err
		}
	}
	return nil
}

func (c *Create) command(dst []byte, desc description.SelectedServer) ([]byte, error) {
	dst = bsoncore.AppendStringElement(dst, "create", c.collection)
	if c.capped != nil {
		dst = bsoncore.AppendBooleanElement(dst, "capped", *c.capped)
	}
	if c.sizeInBytes != nil {
		dst = bsoncore.AppendInt64Element(dst, "size", *c.sizeInBytes)
	}
	if c.autoIndexID != nil {
		dst = bsoncore.AppendBooleanElement(dst, "autoIndexId", *c.autoIndexID)
	}
	if c.maxDocuments != nil {
		dst = bsoncore.AppendInt64Element(dst, "max", *c.maxDocuments)
	}
	if c.validator != nil {
		dst = bsoncore.AppendDocumentElement(dst, "validator", c.validator)
	}
	if c.validationLevel != "" {
		dst = bsoncore.AppendStringElement(dst, "validationLevel", c.validationLevel)
	}
	if c.validationAction != "" {
		dst = bsoncore.AppendStringElement(dst, "validationAction", c.validationAction)
	}
	if c.collation != nil {
		dst = bsoncore.AppendDocumentElement(dst, "collation", c.collation)
	}
	if c.changeStreamPreAndPostImages != nil {
		dst = bsoncore.AppendDocumentElement(dst, "changeStreamPreAndPostImages", c.changeStreamPreAndPostImages)
	}
	if c.encryptedFields != nil {
		dst = bsoncore.AppendDocumentElement(dst, "encryptedFields", c.encryptedFields)
	}
	if c.clusteredIndex != nil {
		dst = bsoncore.AppendDocumentElement(dst, "clusteredIndex", c.clusteredIndex)
	}
	if c.timeseries != nil {
		dst = bsoncore.AppendDocumentElement(dst, "timeseries", c.timeseries)
	}
	if c.expireAfterSeconds != nil {
		dst = bsoncore.AppendInt64Element(dst, "expireAfterSeconds", *c.expireAfterSeconds)
	}
	if c.viewOn != "" {
		dst = bsoncore.AppendStringElement(dst, "viewOn", c.viewOn)
		dst = bsoncore.AppendArrayElement(dst, "pipeline", c.pipeline)
	}
	dst = appendWriteConcern(dst, c.writeConcern)
	return dst, nil
}

// Capped sets whether the collection is capped.
func (c *Create) Capped(capped bool) *Create {
	if c == nil {
		c = new(Create)
	}
	c.capped = &capped
	return c
}

// SizeInBytes sets the maximum size, in bytes, for a capped collection.
func (c *Create) SizeInBytes(size int64) *Create {
	if c == nil {
		c = new(Create)
	}
	c.sizeInBytes = &size
	return c
}

// AutoIndexID sets whether to automatically create an index on _id.
func (c *Create) AutoIndexID(auto bool) *Create {
	if c == nil {
		c = new(Create)
	}
	c.autoIndexID = &auto
	return c
}

// MaxDocuments sets the maximum number of documents in a capped
// collection.
func (c *Create) MaxDocuments(max int64) *Create {
	if c == nil {
		c = new(Create)
	}
	c.maxDocuments = &max
	return c
}

// Validator sets the document validation rules.
func (c *Create) Validator(validator bsoncore.Document) *Create {
	if c == nil {
		c = new(Create)
	}
	c.validator = validator
	return c
}

// ValidationLevel sets how strictly validation is applied to existing
// documents during an update.
func (c *Create) ValidationLevel(level string) *Create {
	if c == nil {
		c = new(Create)
	}
	c.validationLevel = level
	return c
}

// ValidationAction sets whether a validation failure errors or only
// warns.
func (c *Create) ValidationAction(action string) *Create {
	if c == nil {
		c = new(Create)
	}
	c.validationAction = action
	return c
}

// Collation sets the default collation for the collection.
func (c *Create) Collation(collation bsoncore.Document) *Create {
	if c == nil {
		c = new(Create)
	}
	c.collation = collation
	return c
}

// ChangeStreamPreAndPostImages sets the pre/post-image retention config.
func (c *Create) ChangeStreamPreAndPostImages(cfg bsoncore.Document) *Create {
	if c == nil {
		c = new(Create)
	}
	c.changeStreamPreAndPostImages = cfg
	return c
}

// EncryptedFields sets the queryable-encryption field configuration;
// when set, Execute creates the esc/ecoc companion collections first.
func (c *Create) EncryptedFields(fields bsoncore.Document) *Create {
	if c == nil {
		c = new(Create)
	}
	c.encryptedFields = fields
	return c
}

// ClusteredIndex sets the clustered-index configuration.
func (c *Create) ClusteredIndex(idx bsoncore.Document) *Create {
	if c == nil {
		c = new(Create)
	}
	c.clusteredIndex = idx
	return c
}

// Timeseries sets the time-series collection configuration.
func (c *Create) Timeseries(ts bsoncore.Document) *Create {
	if c == nil {
		c = new(Create)
	}
	c.timeseries = ts
	return c
}

// ExpireAfterSeconds sets the TTL for a time-series or clustered-index
// collection.
func (c *Create) ExpireAfterSeconds(seconds int64) *Create {
	if c == nil {
		c = new(Create)
	}
	c.expireAfterSeconds = &seconds
	return c
}

// ViewOn and Pipeline together define a view instead of a plain
// collection.
func (c *Create) ViewOn(source string) *Create {
	if c == nil {
		c = new(Create)
	}
	c.viewOn = source
	return c
}

// Pipeline sets the view pipeline; only meaningful with ViewOn set.
func (c *Create) Pipeline(pipeline bsoncore.Array) *Create {
	if c == nil {
		c = new(Create)
	}
	c.pipeline = pipeline
	return c
}

// Session sets the session for this operation.
func (c *Create) Session(session *session.Client) *Create {
	if c == nil {
		c = new(Create)
	}
	c.session = session
	return c
}

// ClusterClock sets the cluster clock for this operation.
func (c *Create) ClusterClock(clock *session.ClusterClock) *Create {
	if c == nil {
		c = new(Create)
	}
	c.clock = clock
	return c
}

// OperationContext sets the Operation Context for this operation.
func (c *Create) OperationContext(opCtx *driver.OperationContext) *Create {
	if c == nil {
		c = new(Create)
	}
	c.opCtx = opCtx
	return c
}

// Database sets the database to run this operation against.
func (c *Create) Database(database string) *Create {
	if c == nil {
		c = new(Create)
	}
	c.database = database
	return c
}

// Deployment sets the deployment to use for this operation.
func (c *Create) Deployment(deployment driver.Deployment) *Create {
	if c == nil {
		c = new(Create)
	}
	c.deployment = deployment
	return c
}

// Binding sets the connection-source binding to use for this operation.
func (c *Create) Binding(binding driver.Binding) *Create {
	if c == nil {
		c = new(Create)
	}
	c.binding = binding
	return c
}

// WriteConcern sets the write concern used with this operation.
func (c *Create) WriteConcern(wc *writeconcern.WriteConcern) *Create {
	if c == nil {
		c = new(Create)
	}
	c.writeConcern = wc
	return c
}

// ServerSelector sets the selector used to retrieve a server.
func (c *Create) ServerSelector(selector description.ServerSelector) *Create {
	if c == nil {
		c = new(Create)
	}
	c.selector = selector
	return c
}
