package wsdispatcher

import "fmt"

/*************************************************************************************************/
/* DECODE ERROR                                                                                  */
/*************************************************************************************************/

// Error returned when incoming bytes could not be decoded. Err is most of the time a
// wsproto.ProtocolError.
type DecodeError struct {
	// Embedded error
	Err error
}

func (err DecodeError) Error() string {
	return fmt.Sprintf("failed to decode incoming frame: %v", err.Err)
}

func (err DecodeError) Unwrap() error {
	return err.Err
}

/*************************************************************************************************/
/* SERVICE ERROR                                                                                 */
/*************************************************************************************************/

// Error returned when the service failed to process a frame.
type ServiceError struct {
	// Embedded error
	Err error
}

func (err ServiceError) Error() string {
	return fmt.Sprintf("service failed to process frame: %v", err.Err)
}

func (err ServiceError) Unwrap() error {
	return err.Err
}

/*************************************************************************************************/
/* ENCODE ERROR                                                                                  */
/*************************************************************************************************/

// Error returned when an outgoing message could not be encoded.
type EncodeError struct {
	// Embedded error
	Err error
}

func (err EncodeError) Error() string {
	return fmt.Sprintf("failed to encode outgoing message: %v", err.Err)
}

func (err EncodeError) Unwrap() error {
	return err.Err
}

/*************************************************************************************************/
/* TRANSPORT ERROR                                                                               */
/*************************************************************************************************/

// Error returned when reading from or writing to the transport failed.
type TransportError struct {
	// Embedded error
	Err error
}

func (err TransportError) Error() string {
	return fmt.Sprintf("transport failure: %v", err.Err)
}

func (err TransportError) Unwrap() error {
	return err.Err
}
