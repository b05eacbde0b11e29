/*
go-rtvideo turns the raw output of an object detection model into stable,
identity preserving object tracks at real-time frame rates.

The root package holds the pieces shared by every stage: configuration,
logging, tensors handed to and returned from the inference engine, the engine
pool and label loading.  The processing stages live in subpackages:

  - bufpool: reusable CPU and accelerator memory slots
  - preprocess: letterbox resizing of frames into input tensors
  - postprocess: decoding of detector output tensors with NMS
  - tracker: SORT style multi-object tracking
  - monitor: frame rate and latency metrics
  - pipeline: the concurrent multi-stage scheduler tying it all together

The inference engine itself is external and is plugged in through the Engine
interface.  See the example subdirectory for a benchmark run against a
synthetic video source and detector.
*/
package rtvideo
